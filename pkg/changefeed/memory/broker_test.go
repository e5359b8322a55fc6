package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	"github.com/syntrixbase/typestore/pkg/model"
)

type collector struct {
	mu     sync.Mutex
	events []changefeed.Event
}

func (c *collector) handle(ev changefeed.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.ID)
	}
	return out
}

func event(collection, id string) changefeed.Event {
	return changefeed.NewEvent(changefeed.EventCreate, model.Ref{Collection: collection, ID: id}, 1)
}

func TestBroker_ScopeRouting(t *testing.T) {
	b := New(0)
	defer b.Close()
	ctx := context.Background()

	var books, group, updates collector
	_, err := b.Subscribe(model.CollectionScope("books"), books.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(model.GroupScope("updates"), group.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(model.CollectionScope("orders/o1/updates"), updates.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, event("books", "b1")))
	require.NoError(t, b.Publish(ctx, event("orders/o1/updates", "u1")))
	require.NoError(t, b.Publish(ctx, event("orders/o2/updates", "u2")))
	require.NoError(t, b.Publish(ctx, event("updates", "u3")))

	assert.Eventually(t, func() bool { return len(group.ids()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"u1", "u2", "u3"}, group.ids())
	assert.Eventually(t, func() bool { return len(updates.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"u1"}, updates.ids())
	assert.Equal(t, []string{"b1"}, books.ids())
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := New(4)
	defer b.Close()

	var c collector
	unsubscribe, err := b.Subscribe(model.CollectionScope("books"), c.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), event("books", "b1")))
	assert.Eventually(t, func() bool { return len(c.ids()) == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	require.NoError(t, b.Publish(context.Background(), event("books", "b2")))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"b1"}, c.ids())
}

func TestBroker_Close(t *testing.T) {
	b := New(0)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close()) // Idempotent
	assert.True(t, b.IsClosed())

	_, err := b.Subscribe(model.CollectionScope("books"), func(changefeed.Event) {})
	assert.ErrorIs(t, err, ErrBrokerClosed)
	assert.ErrorIs(t, b.Publish(context.Background(), event("books", "b1")), ErrBrokerClosed)
}

func TestBroker_PublishContext(t *testing.T) {
	b := New(1)
	defer b.Close()

	block := make(chan struct{})
	defer close(block)
	_, err := b.Subscribe(model.CollectionScope("books"), func(changefeed.Event) { <-block })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// One event is taken by the blocked handler, one fills the buffer.
	var err2 error
	for i := 0; i < 3 && err2 == nil; i++ {
		err2 = b.Publish(ctx, event("books", "b"))
	}
	assert.ErrorIs(t, err2, context.DeadlineExceeded)
}
