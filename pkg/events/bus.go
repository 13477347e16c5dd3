// Package events provides the process-wide system event bus. Publishing is
// fire-and-forget: events are buffered and fanned out to sinks by a single
// goroutine, and a full buffer drops the event instead of blocking the caller.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/merlinn-co/merlinn/pkg/metrics"
	"github.com/merlinn-co/merlinn/pkg/models"
)

const defaultBufferSize = 256

// Sink receives every published event. Sinks run on the bus goroutine and
// must not block for long.
type Sink interface {
	Name() string
	Handle(ctx context.Context, event models.SystemEvent) error
}

// Options configures a Bus.
type Options struct {
	// Env is stamped onto every payload under "env".
	Env        string
	BufferSize int
	Sinks      []Sink
}

// Bus buffers system events and delivers them to its sinks.
type Bus struct {
	env    string
	sinks  []Sink
	ch     chan models.SystemEvent
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewBus creates a Bus and starts its delivery goroutine.
func NewBus(opts Options) *Bus {
	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	b := &Bus{
		env:   opts.Env,
		sinks: opts.Sinks,
		ch:    make(chan models.SystemEvent, size),
		done:  make(chan struct{}),
	}
	go b.run()
	return b
}

var (
	defaultMu  sync.Mutex
	defaultBus *Bus
)

// Init installs the process-wide bus. Calling it again replaces the previous
// bus after shutting it down.
func Init(opts Options) *Bus {
	defaultMu.Lock()
	prev := defaultBus
	defaultBus = NewBus(opts)
	b := defaultBus
	defaultMu.Unlock()

	if prev != nil {
		_ = prev.Shutdown(context.Background())
	}
	return b
}

// Default returns the process-wide bus, or nil before Init.
func Default() *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultBus
}

// Shutdown drains and stops the process-wide bus.
func Shutdown(ctx context.Context) error {
	defaultMu.Lock()
	b := defaultBus
	defaultBus = nil
	defaultMu.Unlock()
	if b == nil {
		return nil
	}
	return b.Shutdown(ctx)
}

// Publish enqueues event without blocking. It reports whether the event was
// accepted. A nil Bus drops silently.
func (b *Bus) Publish(event models.SystemEvent) bool {
	if b == nil {
		return false
	}
	event = b.stamp(event)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		metrics.EventsDroppedTotal.Inc()
		return false
	}
	select {
	case b.ch <- event:
		metrics.EventsPublishedTotal.WithLabelValues(string(event.Type)).Inc()
		return true
	default:
		metrics.EventsDroppedTotal.Inc()
		slog.Warn("Event bus full, dropping event", "type", event.Type, "entity_id", event.EntityID)
		return false
	}
}

// Shutdown stops accepting events and waits for buffered events to be
// delivered, or for ctx to expire.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.ch)
		b.mu.Unlock()
	})
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) stamp(event models.SystemEvent) models.SystemEvent {
	payload := make(map[string]any, len(event.Payload)+1)
	for k, v := range event.Payload {
		payload[k] = v
	}
	if _, ok := payload["env"]; !ok {
		payload["env"] = b.env
	}
	event.Payload = payload
	return event
}

func (b *Bus) run() {
	defer close(b.done)
	ctx := context.Background()
	for event := range b.ch {
		for _, s := range b.sinks {
			if err := s.Handle(ctx, event); err != nil {
				slog.Warn("Event sink failed",
					"sink", s.Name(), "type", event.Type, "entity_id", event.EntityID, "error", err)
			}
		}
	}
}
