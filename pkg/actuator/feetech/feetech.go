// Package feetech drives Feetech STS serial bus servos as actuator channels.
package feetech

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.uber.org/zap"

	"github.com/gwillem/legion/pkg/actuator"
)

// Steps per full revolution of an STS servo.
const stepsPerRev = 4096

// Config configures the bus.
type Config struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate,omitempty"`
	// BaseID is the servo ID of channel 0; channel n is BaseID+n.
	BaseID int `json:"base_id,omitempty"`
}

// Position converts an actuator angle to a raw servo position, with 90
// degrees at the center of the range.
func Position(deg float64) int {
	return int(math.Round(stepsPerRev/2 + (deg-90)/360*stepsPerRev))
}

// Bus is an actuator.Actuator backed by a chain of bus servos. SetAngle only
// buffers; Flush writes every pending position with one sync write.
type Bus struct {
	bus     *feetech.Bus
	group   *feetech.ServoGroup
	baseID  int
	logger  *zap.SugaredLogger
	mu      sync.Mutex
	pending feetech.PositionMap
}

var (
	_ actuator.Actuator = (*Bus)(nil)
	_ actuator.Flusher  = (*Bus)(nil)
)

// Open opens the serial bus and enables torque on the servos behind channels.
func Open(ctx context.Context, cfg Config, channels []int, logger *zap.SugaredLogger) (*Bus, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1_000_000
	}
	if cfg.BaseID == 0 {
		cfg.BaseID = 1
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	ids := make([]int, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, cfg.BaseID+ch)
	}
	group := feetech.NewServoGroupByIDs(bus, ids...)
	if err := group.EnableAll(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("enable servos: %w", err)
	}

	return &Bus{
		bus:     bus,
		group:   group,
		baseID:  cfg.BaseID,
		logger:  logger.Named("feetech"),
		pending: make(feetech.PositionMap, len(ids)),
	}, nil
}

// SetAngle buffers a new position for channel.
func (b *Bus) SetAngle(_ context.Context, channel int, deg float64) error {
	if err := actuator.CheckChannel(channel); err != nil {
		return err
	}
	b.mu.Lock()
	b.pending[b.baseID+channel] = Position(math.Min(math.Max(deg, 0), 180))
	b.mu.Unlock()
	return nil
}

// Flush writes the buffered positions.
func (b *Bus) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	positions := b.pending
	b.pending = make(feetech.PositionMap, len(positions))
	b.mu.Unlock()

	if err := b.group.SetPositions(ctx, positions); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

// Close disables torque and closes the bus.
func (b *Bus) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.group.DisableAll(ctx); err != nil {
		b.logger.Warnw("disable servos", "error", err)
	}
	return b.bus.Close()
}

// Scan looks for servos with IDs in [first, last] on port.
func Scan(ctx context.Context, port string, first, last int) ([]feetech.FoundServo, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	defer bus.Close()
	return bus.Scan(ctx, first, last)
}
