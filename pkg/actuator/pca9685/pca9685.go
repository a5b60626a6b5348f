// Package pca9685 drives hobby servos through a PCA9685 16-channel PWM
// controller on an I2C bus.
package pca9685

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/gwillem/legion/pkg/actuator"
)

const (
	regMode1    = 0x00
	regMode2    = 0x01
	regLED0OnL  = 0x06
	regAllOffH  = 0xFD
	regPrescale = 0xFE

	mode1Sleep   = 0x10
	mode1AutoInc = 0x20
	mode1Restart = 0x80
	mode2OutDrv  = 0x04
	fullOff      = 0x10

	// Internal oscillator of the PCA9685.
	referenceClock = 25 * physic.MegaHertz

	// Steps in one PWM cycle.
	Resolution = 4096
)

// PulseRange is the servo pulse width, in PWM steps, for 0 and 180 degrees.
type PulseRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DefaultPulseRange matches common SG90/MG90 hobby servos at 60 Hz.
func DefaultPulseRange() PulseRange {
	return PulseRange{Min: 150, Max: 600}
}

// Pulse converts an angle in degrees to a pulse width in PWM steps.
func (p PulseRange) Pulse(deg float64) int {
	return int(float64(p.Min) + deg/180*float64(p.Max-p.Min))
}

// Angle converts a pulse width back to degrees.
func (p PulseRange) Angle(pulse int) float64 {
	span := float64(p.Max - p.Min)
	if span == 0 {
		return 0
	}
	return float64(pulse-p.Min) / span * 180
}

// Duty converts a pulse width to a 16-bit duty cycle.
func Duty(pulse int) uint16 {
	return uint16(math.Round(float64(pulse) / Resolution * 65536))
}

// Config configures the controller.
type Config struct {
	Bus         string     `json:"bus"` // empty selects the first I2C bus
	Address     uint16     `json:"address"`
	FrequencyHz int        `json:"frequency_hz"`
	Pulse       PulseRange `json:"pulse"`
}

// DefaultConfig returns the configuration of the reference wiring.
func DefaultConfig() Config {
	return Config{
		Address:     0x40,
		FrequencyHz: 60,
		Pulse:       DefaultPulseRange(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Address == 0 || c.Address > 0x7F {
		return fmt.Errorf("invalid i2c address 0x%x", c.Address)
	}
	if c.FrequencyHz < 24 || c.FrequencyHz > 1526 {
		return fmt.Errorf("frequency %d Hz outside [24, 1526]", c.FrequencyHz)
	}
	if c.Pulse.Min < 0 || c.Pulse.Max >= Resolution || c.Pulse.Min >= c.Pulse.Max {
		return fmt.Errorf("invalid pulse range %d..%d", c.Pulse.Min, c.Pulse.Max)
	}
	return nil
}

// Driver is an actuator.Actuator backed by a PCA9685.
type Driver struct {
	mu     sync.Mutex
	dev    *i2c.Dev
	closer func() error
	pulse  PulseRange
	logger *zap.SugaredLogger
}

var _ actuator.Actuator = (*Driver)(nil)

// Open initializes the host drivers, opens the configured I2C bus and
// configures the controller.
func Open(cfg Config, logger *zap.SugaredLogger) (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host: %w", err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.Bus, err)
	}
	d, err := New(bus, cfg, logger)
	if err != nil {
		return nil, multierr.Append(err, bus.Close())
	}
	d.closer = bus.Close
	return d, nil
}

// New configures a controller on an already open bus.
func New(bus i2c.Bus, cfg Config, logger *zap.SugaredLogger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		dev:    &i2c.Dev{Bus: bus, Addr: cfg.Address},
		pulse:  cfg.Pulse,
		logger: logger.Named("pca9685"),
	}
	if err := d.reset(cfg.FrequencyHz); err != nil {
		return nil, fmt.Errorf("configure pca9685 at 0x%x: %w", cfg.Address, err)
	}
	d.logger.Infow("controller ready", "bus", bus.String(), "address", fmt.Sprintf("0x%x", cfg.Address), "hz", cfg.FrequencyHz)
	return d, nil
}

// Prescale returns the prescaler value for the given PWM frequency.
func Prescale(hz int) byte {
	return byte(math.Floor(float64(referenceClock/physic.Hertz)/Resolution/float64(hz) + 0.5))
}

func (d *Driver) reset(hz int) error {
	steps := [][]byte{
		{regMode1, 0x00},
		{regMode2, mode2OutDrv},
		{regMode1, mode1Sleep},
		{regPrescale, Prescale(hz)},
		{regMode1, 0x00},
	}
	for _, w := range steps {
		if _, err := d.dev.Write(w); err != nil {
			return err
		}
	}
	// The oscillator needs 500us to stabilize after leaving sleep.
	time.Sleep(5 * time.Millisecond)
	_, err := d.dev.Write([]byte{regMode1, mode1Restart | mode1AutoInc})
	return err
}

// SetAngle moves the servo on channel to deg.
func (d *Driver) SetAngle(_ context.Context, channel int, deg float64) error {
	if err := actuator.CheckChannel(channel); err != nil {
		return err
	}
	if math.IsNaN(deg) {
		return fmt.Errorf("channel %d: angle is NaN", channel)
	}
	deg = math.Min(math.Max(deg, 0), 180)
	return d.setDuty(channel, Duty(d.pulse.Pulse(deg)))
}

func (d *Driver) setDuty(channel int, duty uint16) error {
	// Same rounding as the 16-bit duty_cycle API of the reference driver.
	off := uint16((uint32(duty) + 1) >> 4)
	reg := byte(regLED0OnL + 4*channel)

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.dev.Write([]byte{reg, 0, 0, byte(off), byte(off >> 8)})
	if err != nil {
		return fmt.Errorf("write channel %d: %w", channel, err)
	}
	return nil
}

// Close turns all outputs off and releases the bus.
func (d *Driver) Close() error {
	d.mu.Lock()
	_, err := d.dev.Write([]byte{regAllOffH, fullOff})
	d.mu.Unlock()
	if d.closer != nil {
		err = multierr.Append(err, d.closer())
	}
	return err
}
