package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/samber/lo"

	"github.com/gwillem/legion/pkg/actuator/feetech"
	"github.com/gwillem/legion/pkg/actuator/pca9685"
	"github.com/gwillem/legion/pkg/gait"
	"github.com/gwillem/legion/pkg/geometry"
	"github.com/gwillem/legion/pkg/kinematics"
	"github.com/gwillem/legion/pkg/logging"
	"github.com/gwillem/legion/pkg/motion"
)

const DefaultConfigFile = "legion.json"

// Actuator backends.
const (
	BackendSim     = "sim"
	BackendPCA9685 = "pca9685"
	BackendFeetech = "feetech"
)

// Backends lists the supported actuator backends.
var Backends = []string{BackendSim, BackendPCA9685, BackendFeetech}

// Config holds the robot configuration
type Config struct {
	Backend       string              `json:"backend"`
	Geometry      geometry.Dimensions `json:"geometry"`
	Speeds        gait.Speeds         `json:"speeds"`
	SpeedMultiple float64             `json:"speed_multiple"`
	Timing        Timing              `json:"timing"`
	MirroredLegs  []string            `json:"mirrored_legs"`
	Calibration   Calibration         `json:"calibration"`
	PCA9685       pca9685.Config      `json:"pca9685"`
	Feetech       feetech.Config      `json:"feetech"`
	Log           logging.Config      `json:"log"`
}

// Timing holds the interpolator periods, in milliseconds.
type Timing struct {
	TickMS         int `json:"tick_ms"`
	PollMS         int `json:"poll_ms"`
	ReachTimeoutMS int `json:"reach_timeout_ms"` // 0 waits forever
}

// DefaultConfig returns the configuration of the reference robot on the
// simulated backend.
func DefaultConfig() *Config {
	m := motion.DefaultConfig()
	mirrored := make([]string, 0, 2)
	for _, leg := range kinematics.AllLegs() {
		if m.Mirrored[leg] {
			mirrored = append(mirrored, leg.String())
		}
	}
	return &Config{
		Backend:       BackendSim,
		Geometry:      geometry.DefaultDimensions(),
		Speeds:        gait.DefaultSpeeds(),
		SpeedMultiple: m.SpeedMultiple,
		Timing: Timing{
			TickMS:         int(m.Tick / time.Millisecond),
			PollMS:         int(m.Poll / time.Millisecond),
			ReachTimeoutMS: int(m.ReachTimeout / time.Millisecond),
		},
		MirroredLegs: mirrored,
		Calibration:  DefaultCalibration(),
		PCA9685:      pca9685.DefaultConfig(),
		Log:          logging.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !lo.Contains(Backends, c.Backend) {
		return fmt.Errorf("unknown backend %q, want one of %v", c.Backend, Backends)
	}
	if _, err := geometry.New(c.Geometry); err != nil {
		return fmt.Errorf("geometry: %w", err)
	}
	if _, err := c.MotionConfig(); err != nil {
		return err
	}
	speeds := []float64{c.Speeds.SpotTurn, c.Speeds.LegMove, c.Speeds.BodyMove,
		c.Speeds.StandSeat, c.Speeds.Gesture, c.Speeds.Dance, c.SpeedMultiple}
	if lo.SomeBy(speeds, func(s float64) bool { return s <= 0 }) {
		return fmt.Errorf("speeds and speed multiple must be positive: %+v x%.2f", c.Speeds, c.SpeedMultiple)
	}
	switch c.Backend {
	case BackendPCA9685:
		if err := c.PCA9685.Validate(); err != nil {
			return fmt.Errorf("pca9685: %w", err)
		}
	case BackendFeetech:
		if c.Feetech.Port == "" {
			return fmt.Errorf("feetech: no serial port configured")
		}
	}
	return nil
}

// MotionConfig derives the interpolator configuration.
func (c *Config) MotionConfig() (motion.Config, error) {
	if c.Timing.TickMS <= 0 || c.Timing.PollMS <= 0 || c.Timing.ReachTimeoutMS < 0 {
		return motion.Config{}, fmt.Errorf("invalid timing %+v", c.Timing)
	}
	if err := c.Calibration.Validate(); err != nil {
		return motion.Config{}, err
	}

	m := motion.Config{
		Tick:          time.Duration(c.Timing.TickMS) * time.Millisecond,
		Poll:          time.Duration(c.Timing.PollMS) * time.Millisecond,
		ReachTimeout:  time.Duration(c.Timing.ReachTimeoutMS) * time.Millisecond,
		Channels:      c.Calibration.Channels(),
		Trims:         c.Calibration.Trims(),
		SpeedMultiple: c.SpeedMultiple,
	}
	for _, name := range lo.Uniq(c.MirroredLegs) {
		leg, err := kinematics.ParseLeg(name)
		if err != nil {
			return motion.Config{}, fmt.Errorf("mirrored legs: %w", err)
		}
		m.Mirrored[leg] = true
	}
	return m, nil
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. Fields missing
// from the file keep their default values.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
