// Package realtime keeps a store in step with change notifications. A
// Bridge holds no data of its own; each change only triggers the owner's
// refetch and refresh callbacks.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Tables watched by default.
var DefaultTables = []string{"tasks", "points"}

type State int

const (
	Disconnected State = iota
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Subscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handlers run for every change on a table, in receive order for that
// table. Refresh runs only after a successful Refetch.
type Handlers struct {
	Refetch func(ctx context.Context, table string) error
	Refresh func(ctx context.Context, table string)
}

type Option func(*Bridge)

func WithTables(tables ...string) Option {
	return func(b *Bridge) { b.tables = tables }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// Bridge subscribes to one channel per table. Bursts of changes coalesce:
// while handlers run, further changes on the same table collapse into a
// single pending run.
type Bridge struct {
	source   Source
	handlers Handlers
	tables   []string
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	channels []Channel
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(source Source, handlers Handlers, opts ...Option) *Bridge {
	b := &Bridge{
		source:   source,
		handlers: handlers,
		tables:   DefaultTables,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Connect opens every table channel and moves to Subscribed. If any
// channel fails to open, those already opened are released and the bridge
// stays Disconnected. Connecting a subscribed bridge does nothing.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Subscribed {
		return nil
	}

	channels := make([]Channel, 0, len(b.tables))
	for _, table := range b.tables {
		ch, err := b.source.Open(ctx, table)
		if err != nil {
			var closeErr error
			for _, opened := range channels {
				closeErr = errors.Join(closeErr, opened.Close())
			}
			if closeErr != nil {
				b.logger.Warn("release channels after failed connect", "error", closeErr)
			}
			return fmt.Errorf("open %s channel: %w", table, err)
		}
		channels = append(channels, ch)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	for i, ch := range channels {
		b.wg.Add(1)
		go b.watch(runCtx, b.tables[i], ch)
	}
	b.channels = channels
	b.cancel = cancel
	b.state = Subscribed
	b.logger.Info("realtime subscribed", "tables", b.tables)
	return nil
}

// Disconnect releases both channels and waits for in-flight handlers.
// Safe to call when already disconnected. Must not be called from a
// handler.
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Disconnected {
		return nil
	}

	b.cancel()
	var err error
	for _, ch := range b.channels {
		err = errors.Join(err, ch.Close())
	}
	b.wg.Wait()

	b.channels = nil
	b.cancel = nil
	b.state = Disconnected
	b.logger.Info("realtime disconnected")
	return err
}

func (b *Bridge) watch(ctx context.Context, table string, ch Channel) {
	defer b.wg.Done()

	pending := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-pending:
				if !ok {
					return
				}
				b.run(ctx, table)
			}
		}
	}()

	for range ch.Changes() {
		select {
		case pending <- struct{}{}:
		default:
		}
	}
	if ctx.Err() == nil {
		b.logger.Warn("change channel closed", "table", table)
	}
	close(pending)
	<-done
}

func (b *Bridge) run(ctx context.Context, table string) {
	if b.handlers.Refetch != nil {
		if err := b.handlers.Refetch(ctx, table); err != nil {
			b.logger.Error("refetch after change", "table", table, "error", err)
			return
		}
	}
	if b.handlers.Refresh != nil {
		b.handlers.Refresh(ctx, table)
	}
}
