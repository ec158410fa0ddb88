package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueue       = 256
	defaultSendTimeout = 5 * time.Second
)

// Recorder fans events out to sinks from a single background worker so that
// slow sinks never stall the caller. Events are dropped when the queue is full.
type Recorder struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration

	ch        chan Event
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewRecorder starts the worker. A Recorder with no sinks accepts and discards events.
func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		sinks:   sinks,
		log:     log.With("component", "history"),
		timeout: defaultSendTimeout,
		ch:      make(chan Event, defaultQueue),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Emit queues e for delivery. It never blocks.
func (r *Recorder) Emit(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- e:
	default:
		r.log.Warn("history queue full, dropping event", "type", e.Type, "service", e.Service)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.ch {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := s.Send(ctx, e); err != nil {
				r.log.Warn("history sink send failed", "type", e.Type, "service", e.Service, "error", err)
			}
			cancel()
		}
	}
}

// Close drains queued events and closes sinks that implement io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
		r.wg.Wait()
		for _, s := range r.sinks {
			if c, ok := s.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
	})
	return errors.Join(errs...)
}
