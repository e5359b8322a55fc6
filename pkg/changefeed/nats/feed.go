// Package nats provides a change feed carried over NATS subjects.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	"github.com/syntrixbase/typestore/pkg/model"
)

// DefaultSubjectPrefix is used when Options.SubjectPrefix is empty.
const DefaultSubjectPrefix = "typestore.changes"

// ErrFeedClosed is returned when operating on a closed feed.
var ErrFeedClosed = errors.New("nats feed is closed")

// Options configures the feed.
type Options struct {
	SubjectPrefix string
	Logger        *slog.Logger
}

// Compile-time check that Feed implements changefeed.Feed
var _ changefeed.Feed = (*Feed)(nil)

// Feed publishes events on "<prefix>.<collection name>" and subscribes to the
// subject of the scope's bare name, filtering exact collection paths locally.
type Feed struct {
	conn   Conn
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]func() error
	nextID uint64
	closed atomic.Bool
}

// Connect dials url and returns a feed owning the connection.
func Connect(url string, opts Options, natsOpts ...nats.Option) (*Feed, error) {
	conn, err := natsConnect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return New(conn, opts), nil
}

// New creates a feed over an existing connection.
func New(conn Conn, opts Options) *Feed {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = DefaultSubjectPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Feed{
		conn:   conn,
		prefix: opts.SubjectPrefix,
		logger: opts.Logger,
		subs:   make(map[uint64]func() error),
	}
}

// Publish sends the event to its collection subject.
func (f *Feed) Publish(ctx context.Context, ev changefeed.Event) error {
	if f.closed.Load() {
		return ErrFeedClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := changefeed.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	subject := changefeed.Subject(f.prefix, ev.Ref().Name())
	if err := f.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for events in scope.
func (f *Feed) Subscribe(scope model.Scope, handler changefeed.Handler) (func(), error) {
	if f.closed.Load() {
		return nil, ErrFeedClosed
	}

	name := scope.Path()
	if !scope.IsGroup() {
		name = model.Ref{Collection: scope.Path()}.Name()
	}
	subject := changefeed.Subject(f.prefix, name)

	unsub, err := f.conn.Subscribe(subject, func(subject string, data []byte) {
		ev, err := changefeed.Unmarshal(data)
		if err != nil {
			f.logger.Warn("Dropping malformed change event", "subject", subject, "error", err)
			return
		}
		if scope.Matches(ev.Collection) {
			handler(ev)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = unsub
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			if err := unsub(); err != nil {
				f.logger.Debug("NATS unsubscribe failed", "subject", subject, "error", err)
			}
		})
	}, nil
}

// Close unsubscribes everything and drains the connection.
func (f *Feed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.mu.Lock()
	subs := f.subs
	f.subs = map[uint64]func() error{}
	f.mu.Unlock()
	for _, unsub := range subs {
		_ = unsub()
	}
	return f.conn.Drain()
}
