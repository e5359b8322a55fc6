// Package memory provides an in-process change feed.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	"github.com/syntrixbase/typestore/pkg/model"
)

// ErrBrokerClosed is returned when operating on a closed broker.
var ErrBrokerClosed = errors.New("broker is closed")

// DefaultBufSize is the per-subscription event buffer.
const DefaultBufSize = 256

// Compile-time check that Broker implements changefeed.Feed
var _ changefeed.Feed = (*Broker)(nil)

// Broker routes events to in-process subscriptions. Each subscription has
// its own buffer and delivery goroutine.
type Broker struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        uint64
	bufSize       int
	closed        atomic.Bool
}

type subscription struct {
	scope   model.Scope
	handler changefeed.Handler
	ch      chan changefeed.Event
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a broker. bufSize <= 0 uses DefaultBufSize.
func New(bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = DefaultBufSize
	}
	return &Broker{
		subscriptions: make(map[uint64]*subscription),
		bufSize:       bufSize,
	}
}

// Publish sends ev to all matching subscriptions. It blocks while a
// subscription buffer is full, until ctx is done.
func (b *Broker) Publish(ctx context.Context, ev changefeed.Event) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscriptions {
		if !sub.scope.Matches(ev.Collection) {
			continue
		}
		select {
		case sub.ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.ctx.Done():
			// Subscription cancelled, skip
		}
	}
	return nil
}

// Subscribe registers handler for scope.
func (b *Broker) Subscribe(scope model.Scope, handler changefeed.Handler) (func(), error) {
	if b.closed.Load() {
		return nil, ErrBrokerClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		scope:   scope,
		handler: handler,
		ch:      make(chan changefeed.Event, b.bufSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	b.nextID++
	id := b.nextID
	b.subscriptions[id] = sub
	go sub.run()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			// Cancel first so a publisher blocked on this buffer lets go of the lock.
			cancel()
			b.mu.Lock()
			if b.subscriptions[id] == sub {
				delete(b.subscriptions, id)
			}
			b.mu.Unlock()
		})
	}
	return unsubscribe, nil
}

func (s *subscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.ch:
			if s.ctx.Err() != nil {
				return
			}
			s.handler(ev)
		}
	}
}

// Close shuts down the broker and all subscriptions.
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil // Already closed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscriptions {
		sub.cancel()
	}
	b.subscriptions = map[uint64]*subscription{}
	return nil
}

// IsClosed returns true if the broker is closed.
func (b *Broker) IsClosed() bool {
	return b.closed.Load()
}
