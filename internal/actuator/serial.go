package actuator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/san-kum/coolrig/internal/monitoring"
	"github.com/san-kum/coolrig/internal/rig"
)

var (
	// ErrTimeout indicates the board did not answer within the read timeout.
	ErrTimeout = errors.New("actuator: read timeout")

	// ErrRejected indicates the board answered a command with an error.
	ErrRejected = errors.New("actuator: command rejected")
)

// Port is the byte stream to the flow controller board. serial.Port
// satisfies it.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Serial talks to the flow controller board with a line protocol:
//
//	F <zone> <rate>\n   set one zone, answered by "OK" or "ERR <reason>"
//	Q\n                 query, answered by "r0,r1,...,rN-1"
//
// The port's read timeout bounds the latency of every exchange. After a
// failed read the input buffer is discarded before the next command, so a
// late reply is never taken as the answer to a later one.
type Serial struct {
	zones int

	mu     sync.Mutex
	port   Port
	reader *bufio.Reader
	stale  bool
	closed bool
}

// OpenSerial opens path with opts and returns a bridge for zones flows.
func OpenSerial(path string, zones int, opts PortOptions) (*Serial, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	monitoring.Logf("actuator: opened %s at %d baud for %d zones", path, opts.BaudRate, zones)
	return NewSerial(port, zones), nil
}

// NewSerial wraps an already open port.
func NewSerial(port Port, zones int) *Serial {
	return &Serial{
		zones:  zones,
		port:   port,
		reader: bufio.NewReader(timeoutReader{port}),
	}
}

func (s *Serial) SetFlow(ctx context.Context, zone int, rate float64) error {
	if zone < 0 || zone >= s.zones {
		return fmt.Errorf("%w: %d", rig.ErrZoneIndex, zone)
	}
	reply, err := s.exchange(ctx, fmt.Sprintf("F %d %.2f\n", zone, rate))
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("%w: zone %d: %s", ErrRejected, zone, strings.TrimPrefix(reply, "ERR "))
	}
	return nil
}

func (s *Serial) Flow(ctx context.Context) ([]float64, error) {
	reply, err := s.exchange(ctx, "Q\n")
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(reply, "ERR") {
		return nil, fmt.Errorf("%w: query: %s", ErrRejected, strings.TrimPrefix(reply, "ERR "))
	}
	parts := strings.Split(reply, ",")
	if len(parts) != s.zones {
		return nil, fmt.Errorf("%w: board reported %d flows for %d zones", rig.ErrZoneIndex, len(parts), s.zones)
	}
	flows := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("flow %d: %w", i, err)
		}
		flows[i] = v
	}
	return flows, nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

func (s *Serial) exchange(ctx context.Context, line string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", rig.ErrClosed
	}

	if s.stale {
		if err := s.port.ResetInputBuffer(); err != nil {
			return "", fmt.Errorf("drain input before %q: %w", strings.TrimSpace(line), err)
		}
		s.reader.Reset(timeoutReader{s.port})
		s.stale = false
	}
	if _, err := io.WriteString(s.port, line); err != nil {
		return "", fmt.Errorf("write %q: %w", strings.TrimSpace(line), err)
	}
	reply, err := s.reader.ReadString('\n')
	if err != nil {
		s.stale = true
		return "", fmt.Errorf("read reply to %q: %w", strings.TrimSpace(line), err)
	}
	return strings.TrimSpace(reply), nil
}

// timeoutReader turns the (0, nil) read a serial port returns on timeout
// into ErrTimeout.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}
