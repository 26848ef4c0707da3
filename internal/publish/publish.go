// Package publish streams tick readings to a message broker so other lab
// services can follow the rig. Publishing never blocks the control loop:
// readings that cannot be queued are dropped and counted.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/san-kum/coolrig/internal/monitoring"
	"github.com/san-kum/coolrig/internal/rig"
)

// Transport delivers one payload. key identifies the rig run so brokers
// that partition by key keep a run's readings in order.
type Transport interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// ZoneReading is one zone in a published tick. Missing values encode as null.
type ZoneReading struct {
	Zone        int      `json:"zone"`
	Temperature *float64 `json:"temperature"`
	Setpoint    *float64 `json:"setpoint"`
	Flow        *float64 `json:"flow"`
	Command     *float64 `json:"command"`
	Source      string   `json:"source,omitempty"`
}

type Reading struct {
	Rig             string        `json:"rig"`
	Seq             int           `json:"seq"`
	Stamp           time.Time     `json:"stamp"`
	Time            float64       `json:"time"`
	TemperatureMode bool          `json:"temperature_mode"`
	Schedule        string        `json:"schedule,omitempty"`
	Zones           []ZoneReading `json:"zones"`
}

// ReadingOf flattens a tick for publishing.
func ReadingOf(name string, t *rig.Tick) Reading {
	r := Reading{
		Rig:             name,
		Seq:             t.Seq,
		Stamp:           t.Stamp,
		Time:            t.Time,
		TemperatureMode: t.TemperatureMode,
		Schedule:        t.Schedule.State,
		Zones:           make([]ZoneReading, t.Zones()),
	}
	for i := range r.Zones {
		z := ZoneReading{Zone: i, Temperature: number(t.Temperatures[i])}
		if i < len(t.Setpoints) {
			z.Setpoint = number(t.Setpoints[i].Float())
		}
		if i < len(t.Flows) {
			z.Flow = number(t.Flows[i])
		}
		if i < len(t.Commands) {
			z.Command = number(t.Commands[i])
		}
		if i < len(t.Sources) {
			z.Source = t.Sources[i]
		}
		r.Zones[i] = z
	}
	return r
}

func number(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Publisher is a rig.Sink that hands readings to a Transport from its own
// goroutine.
type Publisher struct {
	name      string
	transport Transport
	timeout   time.Duration
	queue     chan []byte

	dropped   atomic.Int64
	failed    atomic.Int64
	published atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

var _ rig.Sink = (*Publisher)(nil)

// NewPublisher starts the delivery goroutine. name is used as the message
// key and the reading's rig field.
func NewPublisher(name string, transport Transport, buffer int) *Publisher {
	if buffer < 1 {
		buffer = 1
	}
	p := &Publisher{
		name:      name,
		transport: transport,
		timeout:   2 * time.Second,
		queue:     make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Publisher) Record(t *rig.Tick) error {
	payload, err := json.Marshal(ReadingOf(p.name, t))
	if err != nil {
		return fmt.Errorf("publish: encode tick %d: %w", t.Seq, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	select {
	case p.queue <- payload:
	default:
		p.dropped.Add(1)
	}
	return nil
}

func (p *Publisher) loop() {
	defer close(p.done)
	for payload := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.transport.Publish(ctx, p.name, payload)
		cancel()
		if err != nil {
			if p.failed.Add(1) == 1 {
				monitoring.Logf("publish: %v", err)
			}
			continue
		}
		p.published.Add(1)
	}
}

func (p *Publisher) Published() int64 { return p.published.Load() }
func (p *Publisher) Dropped() int64   { return p.dropped.Load() }
func (p *Publisher) Failed() int64    { return p.failed.Load() }

// Close delivers what is queued, then closes the transport.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		<-p.done
		err = p.transport.Close()
		if n := p.failed.Load(); n > 0 {
			monitoring.Logf("publish: %d readings failed, %d dropped", n, p.dropped.Load())
		}
	})
	return err
}

var ErrScheme = errors.New("publish: unsupported broker scheme")

// Open connects to the broker named by rawURL:
//
//	mqtt://host:1883/coolrig/ticks
//	kafka://broker1:9092,broker2:9092/coolrig-ticks
//	nats://host:4222/coolrig.ticks
func Open(rawURL, clientID string) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	topic := strings.Trim(u.Path, "/")
	if topic == "" {
		return nil, fmt.Errorf("publish: %s: missing topic", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("publish: %s: missing broker", rawURL)
	}

	switch u.Scheme {
	case "mqtt", "tcp":
		return NewMQTT("tcp://"+u.Host, clientID, topic)
	case "kafka":
		return NewKafka(strings.Split(u.Host, ","), topic), nil
	case "nats":
		return NewNATS("nats://"+u.Host, clientID, topic)
	}
	return nil, fmt.Errorf("%w: %q", ErrScheme, u.Scheme)
}
