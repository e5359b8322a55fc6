package driver

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	feedmemory "github.com/syntrixbase/typestore/pkg/changefeed/memory"
	"github.com/syntrixbase/typestore/pkg/model"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	docs  []*RawDoc
}

func (f *fakeFetcher) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) FetchOne(_ context.Context, ref model.Ref) (*RawDoc, error) {
	f.record("one " + ref.String())
	return nil, nil
}

func (f *fakeFetcher) FetchMany(_ context.Context, collection string, ids []string) ([]*RawDoc, error) {
	f.record("many " + collection)
	return make([]*RawDoc, len(ids)), nil
}

func (f *fakeFetcher) FetchAll(_ context.Context, scope model.Scope) ([]*RawDoc, error) {
	f.record("all " + scope.String())
	return f.docs, nil
}

func (f *fakeFetcher) FetchQuery(_ context.Context, scope model.Scope, _ []model.QueryNode) ([]*RawDoc, error) {
	f.record("query " + scope.String())
	return f.docs, nil
}

func TestFetch(t *testing.T) {
	f := &fakeFetcher{}
	ctx := context.Background()

	docs, err := Fetch(ctx, f, model.Request{Kind: model.KindGet, Scope: model.CollectionScope("books"), ID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, []*RawDoc{nil}, docs)

	docs, err = Fetch(ctx, f, model.Request{Kind: model.KindMany, Scope: model.CollectionScope("books"), IDs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = Fetch(ctx, f, model.Request{Kind: model.KindAll, Scope: model.GroupScope("updates")})
	require.NoError(t, err)
	_, err = Fetch(ctx, f, model.Request{Kind: model.KindQuery, Scope: model.CollectionScope("books")})
	require.NoError(t, err)

	assert.Equal(t, []string{"one books/b1", "many books", "all group:updates", "query books"}, f.calls)

	_, err = Fetch(ctx, f, model.Request{Kind: model.KindTransactionRead})
	assert.ErrorIs(t, err, model.ErrUnsupported)
}

func TestAffects(t *testing.T) {
	ev := changefeed.NewEvent(changefeed.EventUpdate, model.Ref{Collection: "books", ID: "b1"}, 2)
	tests := []struct {
		name string
		req  model.Request
		want bool
	}{
		{"get same", model.Request{Kind: model.KindGet, ID: "b1"}, true},
		{"get other", model.Request{Kind: model.KindGet, ID: "b2"}, false},
		{"many hit", model.Request{Kind: model.KindMany, IDs: []string{"x", "b1"}}, true},
		{"many miss", model.Request{Kind: model.KindMany, IDs: []string{"x"}}, false},
		{"query", model.Request{Kind: model.KindQuery}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Affects(tt.req, ev))
		})
	}
}

func TestSubscribeFeed(t *testing.T) {
	feed := feedmemory.New(0)
	defer feed.Close()
	f := &fakeFetcher{docs: []*RawDoc{}}
	req := model.Request{Kind: model.KindAll, Scope: model.CollectionScope("books")}

	results := make(chan []*RawDoc, 16)
	unsubscribe, err := SubscribeFeed(feed, f, req, func(docs []*RawDoc) { results <- docs }, func(err error) { t.Error(err) }, testLogger())
	require.NoError(t, err)

	select {
	case docs := <-results:
		assert.NotNil(t, docs)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial result")
	}

	// other collections do not trigger a refetch
	require.NoError(t, feed.Publish(context.Background(), changefeed.NewEvent(changefeed.EventCreate, model.Ref{Collection: "users", ID: "u"}, 1)))
	require.NoError(t, feed.Publish(context.Background(), changefeed.NewEvent(changefeed.EventCreate, model.Ref{Collection: "books", ID: "b"}, 2)))
	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("no result after change")
	}
	assert.Equal(t, 2, f.count())

	unsubscribe()
	unsubscribe()
	require.NoError(t, feed.Publish(context.Background(), changefeed.NewEvent(changefeed.EventUpdate, model.Ref{Collection: "books", ID: "b"}, 3)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, f.count())

	_, err = SubscribeFeed(feed, f, model.Request{Kind: model.KindTransactionRead}, nil, nil, testLogger())
	assert.ErrorIs(t, err, model.ErrUnsupported)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
