package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Publisher emits events to a sink, either inline or through a bounded
// buffer with a background worker. When the buffer is full events are
// dropped rather than blocking the caller.
type Publisher struct {
	sink   Sink
	logger *slog.Logger

	inbox   chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64

	closeOnce sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous delivery through a
// buffer of the given size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

// NewPublisher creates a publisher over sink. With no options delivery is
// synchronous.
func NewPublisher(sink Sink, logger *slog.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{sink: sink, logger: logger, done: make(chan struct{})}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit publishes an event. Missing timestamps are filled in. In async mode a
// full buffer drops the event; synchronous delivery failures are logged and
// swallowed so mutations never fail on stream trouble.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if p.inbox == nil {
		p.deliver(ctx, event)
		return
	}

	select {
	case p.inbox <- event:
	default:
		p.dropped.Add(1)
		p.logger.WarnContext(ctx, "audit stream buffer full, dropping event",
			"flag_key", event.FlagKey,
			"action", event.Action,
		)
	}
}

// Dropped returns the number of events lost to a full buffer.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Close drains the buffer, stops the worker, and closes the sink.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
	return p.sink.Close()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case event := <-p.inbox:
			p.deliver(context.Background(), event)
		case <-p.done:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case event := <-p.inbox:
					p.deliver(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, event Event) {
	if err := p.sink.Publish(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "audit stream publish failed",
			"flag_key", event.FlagKey,
			"action", event.Action,
			"error", err,
		)
	}
}
