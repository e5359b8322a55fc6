package nats

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	"github.com/syntrixbase/typestore/pkg/model"
)

// fakeConn routes published messages to exact-subject subscribers.
type fakeConn struct {
	mu         sync.Mutex
	handlers   map[int]fakeSub
	next       int
	published  []string
	publishErr error
	drained    bool
}

type fakeSub struct {
	subject string
	handler func(string, []byte)
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[int]fakeSub)}
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	if c.publishErr != nil {
		c.mu.Unlock()
		return c.publishErr
	}
	c.published = append(c.published, subject)
	var targets []fakeSub
	for _, s := range c.handlers {
		if s.subject == subject {
			targets = append(targets, s)
		}
	}
	c.mu.Unlock()
	for _, s := range targets {
		s.handler(subject, data)
	}
	return nil
}

func (c *fakeConn) Subscribe(subject string, handler func(string, []byte)) (func() error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	id := c.next
	c.handlers[id] = fakeSub{subject: subject, handler: handler}
	return func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
		return nil
	}, nil
}

func (c *fakeConn) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drained = true
	return nil
}

func (c *fakeConn) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

func ev(collection, id string) changefeed.Event {
	return changefeed.NewEvent(changefeed.EventUpdate, model.Ref{Collection: collection, ID: id}, 2)
}

func TestFeed_Routing(t *testing.T) {
	conn := newFakeConn()
	feed := New(conn, Options{SubjectPrefix: "test"})
	ctx := context.Background()

	var mu sync.Mutex
	var exact, group []string
	_, err := feed.Subscribe(model.CollectionScope("orders/o1/updates"), func(e changefeed.Event) {
		mu.Lock()
		exact = append(exact, e.ID)
		mu.Unlock()
	})
	require.NoError(t, err)
	_, err = feed.Subscribe(model.GroupScope("updates"), func(e changefeed.Event) {
		mu.Lock()
		group = append(group, e.ID)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, feed.Publish(ctx, ev("orders/o1/updates", "u1")))
	require.NoError(t, feed.Publish(ctx, ev("orders/o2/updates", "u2")))
	require.NoError(t, feed.Publish(ctx, ev("books", "b1")))

	assert.Equal(t, []string{"u1"}, exact)
	assert.Equal(t, []string{"u1", "u2"}, group)
	assert.Equal(t, []string{"test.updates", "test.updates", "test.books"}, conn.published)
}

func TestFeed_Unsubscribe(t *testing.T) {
	conn := newFakeConn()
	feed := New(conn, Options{})

	var got int
	unsubscribe, err := feed.Subscribe(model.CollectionScope("books"), func(changefeed.Event) { got++ })
	require.NoError(t, err)
	assert.Equal(t, 1, conn.subscriptions())

	require.NoError(t, feed.Publish(context.Background(), ev("books", "b1")))
	unsubscribe()
	unsubscribe()
	require.NoError(t, feed.Publish(context.Background(), ev("books", "b2")))

	assert.Equal(t, 1, got)
	assert.Equal(t, 0, conn.subscriptions())
	assert.True(t, strings.HasPrefix(conn.published[0], DefaultSubjectPrefix+"."))
}

func TestFeed_MalformedPayload(t *testing.T) {
	conn := newFakeConn()
	feed := New(conn, Options{SubjectPrefix: "test"})

	var got int
	_, err := feed.Subscribe(model.CollectionScope("books"), func(changefeed.Event) { got++ })
	require.NoError(t, err)

	require.NoError(t, conn.Publish("test.books", []byte("not json")))
	assert.Equal(t, 0, got)
}

func TestFeed_Errors(t *testing.T) {
	conn := newFakeConn()
	conn.publishErr = errors.New("no responders")
	feed := New(conn, Options{})

	err := feed.Publish(context.Background(), ev("books", "b1"))
	assert.ErrorContains(t, err, "no responders")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, feed.Publish(ctx, ev("books", "b1")), context.Canceled)

	_, err = feed.Subscribe(model.CollectionScope("books"), func(changefeed.Event) {})
	require.NoError(t, err)
	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close())
	assert.True(t, conn.drained)
	assert.Equal(t, 0, conn.subscriptions())

	assert.ErrorIs(t, feed.Publish(context.Background(), ev("books", "b1")), ErrFeedClosed)
	_, err = feed.Subscribe(model.CollectionScope("books"), func(changefeed.Event) {})
	assert.ErrorIs(t, err, ErrFeedClosed)
}

func TestConnect(t *testing.T) {
	orig := natsConnect
	defer func() { natsConnect = orig }()

	conn := newFakeConn()
	natsConnect = func(url string, opts ...nats.Option) (Conn, error) {
		assert.Equal(t, "nats://example:4222", url)
		return conn, nil
	}
	feed, err := Connect("nats://example:4222", Options{})
	require.NoError(t, err)
	assert.Same(t, conn, feed.conn)

	natsConnect = func(url string, opts ...nats.Option) (Conn, error) {
		return nil, errors.New("refused")
	}
	_, err = Connect("nats://example:4222", Options{})
	assert.ErrorContains(t, err, "failed to connect to NATS")
}
