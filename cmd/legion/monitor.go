package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/legion/pkg/kinematics"
	"github.com/gwillem/legion/pkg/logging"
	"github.com/gwillem/legion/pkg/motion"
	"github.com/gwillem/legion/pkg/robot"
)

type MonitorCommand struct {
	Steps int  `long:"steps" default:"2" description:"Steps per walk and turn phase"`
	Loop  bool `long:"loop" description:"Repeat the routine until quit"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + status row
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Leg colors - distinct colors for each leg
var legColors = [kinematics.NumLegs]string{
	kinematics.FrontRight: "196", // red
	kinematics.RearRight:  "226", // yellow
	kinematics.FrontLeft:  "46",  // green
	kinematics.RearLeft:   "51",  // cyan
}

var levelColors = map[zapcore.Level]string{
	zapcore.DebugLevel: "241",
	zapcore.InfoLevel:  "12",
	zapcore.WarnLevel:  "11",
	zapcore.ErrorLevel: "9",
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	faultStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

type monitorModel struct {
	states   <-chan motion.Snapshot
	logs     <-chan string
	stop     <-chan struct{}
	chart    *streamlinechart.Model
	joint    robot.Joint
	width    int // terminal width
	height   int // terminal height
	lines    []string
	snap     motion.Snapshot
	last     *[kinematics.NumLegs]float64 // previous angles, to freeze the chart when idle
	maneuver string
	done     string
	quitting bool
}

// Messages from the robot
type stateMsg motion.Snapshot
type logMsg string
type maneuverMsg string
type doneMsg struct{ err error }

// waitForState yields the next snapshot, or nil once done is closed.
func waitForState(states <-chan motion.Snapshot, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-states:
			return stateMsg(s)
		case <-done:
			return nil
		}
	}
}

func waitForLog(logs <-chan string, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case l := <-logs:
			return logMsg(l)
		case <-done:
			return nil
		}
	}
}

func newAngleChart(w, h int) *streamlinechart.Model {
	chart := streamlinechart.New(w, h,
		streamlinechart.WithYRange(0, 180),
	)
	for _, leg := range kinematics.AllLegs() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(legColors[leg]))
		chart.SetDataSetStyles(leg.String(), runes.ThinLineStyle, style)
	}
	return &chart
}

func newMonitorModel(states <-chan motion.Snapshot, logs <-chan string, stop <-chan struct{}) monitorModel {
	return monitorModel{
		states: states,
		logs:   logs,
		stop:   stop,
		chart:  newAngleChart(80, 20),
		joint:  robot.Knee,
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *monitorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m *monitorModel) addLog(msg string) {
	m.lines = append(m.lines, msg)
	if len(m.lines) > maxLogs {
		m.lines = m.lines[len(m.lines)-maxLogs:]
	}
}

// push adds the selected joint angle of every leg, skipping idle ticks.
func (m *monitorModel) push(s motion.Snapshot) {
	var angles [kinematics.NumLegs]float64
	for n, st := range s.Legs {
		angles[n] = st.Angles[m.joint]
	}
	if m.last != nil && *m.last == angles {
		return
	}
	for _, leg := range kinematics.AllLegs() {
		m.chart.PushDataSet(leg.String(), angles[leg])
	}
	m.chart.DrawAll()
	m.last = &angles
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.states, m.stop),
		waitForLog(m.logs, m.stop),
	)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "1", "2", "3":
			j := robot.Joint(msg.String()[0] - '1')
			if j != m.joint {
				m.joint = j
				m.chart = newAngleChart(m.chartSize())
				m.last = nil
			}
		}

	case stateMsg:
		m.snap = motion.Snapshot(msg)
		m.push(m.snap)
		return m, waitForState(m.states, m.stop)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.logs, m.stop)

	case maneuverMsg:
		m.maneuver = string(msg)

	case doneMsg:
		m.maneuver = ""
		m.done = "Routine complete."
		if msg.err != nil {
			m.done = "Routine failed: " + msg.err.Error()
		}
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Monitor stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Legion Monitor"))
	sb.WriteString(fmt.Sprintf(" - %s angles", m.joint))
	switch {
	case m.maneuver != "":
		sb.WriteString(statusStyle.Render("  [" + m.maneuver + "]"))
	case m.done != "":
		sb.WriteString(statusStyle.Render("  " + m.done))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(renderLegend(m.snap))
	sb.WriteString("\n")
	sb.WriteString(statusStyle.Render(fmt.Sprintf("ticks %d  speed %.1f  faults %d  dispatch errors %d",
		m.snap.Ticks, m.snap.Speed, m.snap.Faults, m.snap.DispatchErrors)))
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.lines) == 0 {
		logLines = statusStyle.Render("1/2/3 select shoulder/knee/yaw, 'q' to quit")
	} else {
		logLines = strings.Join(m.lines, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend(s motion.Snapshot) string {
	var items []string
	for _, leg := range kinematics.AllLegs() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(legColors[leg])).Bold(true)
		item := colorStyle.Render("━━") + " " + leg.String()
		if s.Legs[leg].Fault {
			item += " " + faultStyle.Render("unreachable")
		}
		items = append(items, item)
	}
	return strings.Join(items, "  ")
}

// logFeed returns a hook that renders entries into a channel, dropping
// them when the UI falls behind.
func logFeed(out chan<- string) func(zapcore.Entry) error {
	return func(e zapcore.Entry) error {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(levelColors[e.Level]))
		line := style.Render(e.Level.CapitalString()) + " " + e.Message
		if e.LoggerName != "" {
			line = style.Render(e.Level.CapitalString()) + " " + statusStyle.Render(e.LoggerName) + " " + e.Message
		}
		select {
		case out <- line:
		default:
		}
		return nil
	}
}

func (c *MonitorCommand) Execute(args []string) error {
	logs := make(chan string, 64)
	return runCommand(func(ctx context.Context, r *robot.Robot) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		p := tea.NewProgram(newMonitorModel(r.Motion.States(), logs, ctx.Done()), tea.WithAltScreen())

		demoErr := make(chan error, 1)
		go func() {
			err := runDemo(ctx, r, c.Steps, c.Loop, func(name string) {
				p.Send(maneuverMsg(name))
			})
			p.Send(doneMsg{err})
			demoErr <- err
		}()
		go func() {
			<-ctx.Done()
			p.Quit()
		}()

		if _, err := p.Run(); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		cancel()
		if err := <-demoErr; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}, logging.Quiet(), logging.WithHook(logFeed(logs)))
}
