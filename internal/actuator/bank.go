// Package actuator implements flow actuators: an in-memory bank for tests
// and dry runs, and a line-oriented bridge to a flow controller board over
// a serial port.
package actuator

import (
	"context"
	"fmt"
	"sync"

	"github.com/san-kum/coolrig/internal/control"
	"github.com/san-kum/coolrig/internal/rig"
)

// Bank holds the commanded flow of every zone in memory. Feedback equals
// the last command.
type Bank struct {
	mu     sync.Mutex
	flows  []float64
	writes int
	closed bool
}

func NewBank(zones int) *Bank {
	return &Bank{flows: make([]float64, zones)}
}

func (b *Bank) SetFlow(ctx context.Context, zone int, rate float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return rig.ErrClosed
	}
	if zone < 0 || zone >= len(b.flows) {
		return fmt.Errorf("%w: %d", rig.ErrZoneIndex, zone)
	}
	b.flows[zone] = control.ClampFlow(rate)
	b.writes++
	return nil
}

func (b *Bank) Flow(ctx context.Context) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, rig.ErrClosed
	}
	out := make([]float64, len(b.flows))
	copy(out, b.flows)
	return out, nil
}

// Close releases the bank. Commanded flows stay readable through Flows.
func (b *Bank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Flows returns the last commanded rates, also after Close.
func (b *Bank) Flows() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.flows...)
}

func (b *Bank) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

func (b *Bank) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
