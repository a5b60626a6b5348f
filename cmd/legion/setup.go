package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	servo "github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/gwillem/legion/pkg/actuator"
	"github.com/gwillem/legion/pkg/actuator/feetech"
	"github.com/gwillem/legion/pkg/logging"
	"github.com/gwillem/legion/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Largest trim the setup accepts, degrees.
const maxTrim = 30

type SetupCommand struct{}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Legion Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := robot.LoadConfigFrom(opts.Config)
	if err != nil {
		cfg = robot.DefaultConfig()
	}

	// Step 1: Choose the servo backend
	if err := huh.NewSelect[string]().
		Title("Which servos drive the legs?").
		Options(
			huh.NewOption("PCA9685 PWM board on I2C (hobby servos)", robot.BackendPCA9685),
			huh.NewOption("Feetech STS bus servos on a serial port", robot.BackendFeetech),
			huh.NewOption("None, simulate", robot.BackendSim),
		).
		Value(&cfg.Backend).
		Run(); err != nil {
		return err
	}

	// Step 2: Locate the hardware
	switch cfg.Backend {
	case robot.BackendFeetech:
		if err := setupFeetech(cfg); err != nil {
			return err
		}
	case robot.BackendPCA9685:
		if err := setupPCA9685(cfg); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Step 3: Trim the joints
	if cfg.Backend != robot.BackendSim {
		var trim bool
		if err := huh.NewConfirm().
			Title("Adjust joint trims now?").
			Description("Each joint is driven to 90 degrees; nudge it until the leg is square.").
			Value(&trim).
			Run(); err != nil {
			return err
		}
		if trim {
			fmt.Println()
			fmt.Println(subHeaderStyle.Render("━━━ Trimming Joints ━━━"))
			fmt.Println()
			if err := trimJoints(cfg); err != nil {
				return err
			}
		}
	}

	if err := cfg.SaveTo(opts.Config); err != nil {
		return errors.Wrap(err, "saving config")
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Try it with: " + headerStyle.Render("legion demo"))
	return nil
}

type busInfo struct {
	port   string
	servos []int
}

// findServos scans every serial port for bus servos with IDs in [first, last].
func findServos(first, last int) []busInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var found []busInfo
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		ctx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		servos, err := feetech.Scan(ctx, port, first, last)
		cancel()
		if err != nil || len(servos) == 0 {
			continue
		}
		fmt.Printf("  Found %d servo(s) on %s\n", len(servos), port)
		found = append(found, busInfo{
			port:   port,
			servos: lo.Map(servos, func(s servo.FoundServo, _ int) int { return s.ID }),
		})
	}
	return found
}

func setupFeetech(cfg *robot.Config) error {
	base := cfg.Feetech.BaseID
	if base == 0 {
		base = 1
	}
	fmt.Println("Scanning for bus servos...")
	fmt.Println()

	buses := findServos(base, base+actuator.NumChannels-1)
	if len(buses) == 0 {
		return errors.New("no bus servos found; make sure they are connected and powered on")
	}
	fmt.Println()
	fmt.Println(renderBuses(buses))

	port := buses[0].port
	if len(buses) > 1 {
		choices := lo.Map(buses, func(b busInfo, _ int) huh.Option[string] {
			return huh.NewOption(fmt.Sprintf("%s (%d servos)", b.port, len(b.servos)), b.port)
		})
		if err := huh.NewSelect[string]().
			Title("Which port drives the legs?").
			Options(choices...).
			Value(&port).
			Run(); err != nil {
			return err
		}
	}
	cfg.Feetech.Port = port

	bus, _ := lo.Find(buses, func(b busInfo) bool { return b.port == port })
	want := lo.Map(cfg.Calibration.ChannelList(), func(ch, _ int) int { return ch + base })
	if missing := lo.Without(want, bus.servos...); len(missing) > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("Servo IDs %v not found on %s.", missing, port)))
	}
	return nil
}

func renderBuses(buses []busInfo) string {
	rows := lo.Map(buses, func(b busInfo, _ int) []string {
		ids := lo.Map(b.servos, func(id, _ int) string { return strconv.Itoa(id) })
		return []string{b.port, strconv.Itoa(len(b.servos)), strings.Join(ids, " ")}
	})
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Port", "Servos", "IDs").
		Rows(rows...).
		Render()
}

func setupPCA9685(cfg *robot.Config) error {
	address := fmt.Sprintf("0x%02x", cfg.PCA9685.Address)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("I2C bus").
				Description("Leave empty for the first bus").
				Value(&cfg.PCA9685.Bus),
			huh.NewInput().
				Title("Board address").
				Value(&address).
				Validate(func(s string) error {
					_, err := strconv.ParseUint(s, 0, 7)
					return err
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	addr, err := strconv.ParseUint(address, 0, 7)
	if err != nil {
		return errors.Wrapf(err, "address %q", address)
	}
	cfg.PCA9685.Address = uint16(addr)
	return cfg.PCA9685.Validate()
}

// trimJoints runs the trim TUI against the configured backend and stores
// the result in cfg.
func trimJoints(cfg *robot.Config) error {
	logger, closeLog, err := logging.New(cfg.Log, logging.Quiet())
	if err != nil {
		return err
	}
	defer closeLog()

	act, err := robot.OpenActuator(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer act.Close()

	m := newTrimModel(cfg.Calibration, act, logger)
	if err := m.apply(); err != nil {
		return err
	}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return errors.Wrap(err, "running trim")
	}
	tm := final.(trimModel)
	if tm.canceled {
		fmt.Println("Trims left unchanged.")
		return nil
	}
	cfg.Calibration = tm.cal
	fmt.Println("Joints trimmed.")
	return nil
}

// Trim TUI model
type trimModel struct {
	joints   []robot.JointName
	cal      robot.Calibration
	act      actuator.Actuator
	logger   *zap.SugaredLogger
	cursor   int
	err      error
	canceled bool
	quitting bool
}

func newTrimModel(cal robot.Calibration, act actuator.Actuator, logger *zap.SugaredLogger) trimModel {
	cp := make(robot.Calibration, len(cal))
	for k, v := range cal {
		cp[k] = v
	}
	return trimModel{
		joints: robot.AllJoints(),
		cal:    cp,
		act:    act,
		logger: logger,
	}
}

// apply drives every joint to its trimmed center.
func (m trimModel) apply() error {
	for _, name := range m.joints {
		if err := m.center(name); err != nil {
			return err
		}
	}
	return nil
}

func (m trimModel) center(name robot.JointName) error {
	jc := m.cal[name]
	ctx := rootCtx
	if err := m.act.SetAngle(ctx, jc.Channel, 90+jc.Trim); err != nil {
		return errors.Wrapf(err, "centering %s", name)
	}
	if f, ok := m.act.(actuator.Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

func (m trimModel) Init() tea.Cmd {
	return nil
}

func (m trimModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	var step float64
	switch key.String() {
	case "enter":
		m.quitting = true
		return m, tea.Quit
	case "q", "ctrl+c", "esc":
		m.canceled = true
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		m.cursor = max(m.cursor-1, 0)
	case "down", "j":
		m.cursor = min(m.cursor+1, len(m.joints)-1)
	case "left", "h":
		step = -1
	case "right", "l":
		step = 1
	case "shift+left", "H":
		step = -5
	case "shift+right", "L":
		step = 5
	}

	if step != 0 {
		name := m.joints[m.cursor]
		jc := m.cal[name]
		jc.Trim = min(max(jc.Trim+step, -maxTrim), maxTrim)
		m.cal[name] = jc
		m.err = m.center(name)
		if m.err != nil {
			m.logger.Warnw("trim", "joint", name, "error", m.err)
		}
	}
	return m, nil
}

func (m trimModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	// Table styles
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableJointStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableSelectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true).Padding(0, 1)

	rows := make([][]string, 0, len(m.joints))
	for _, name := range m.joints {
		jc := m.cal[name]
		rows = append(rows, []string{
			string(name),
			strconv.Itoa(jc.Channel),
			fmt.Sprintf("%+.0f", jc.Trim),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Channel", "Trim").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case row == m.cursor:
				return tableSelectedStyle
			case col == 0:
				return tableJointStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	if m.err != nil {
		sb.WriteString(warnStyle.Render(m.err.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString(dimStyle.Render("↑/↓ select  ←/→ trim 1°  H/L trim 5°  Enter save  q cancel"))

	return sb.String()
}
