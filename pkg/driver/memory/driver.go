// Package memory provides an in-process driver. Documents live in a versioned
// map, filters run as CEL programs and live subscriptions are fed by a change
// feed.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	feedmemory "github.com/syntrixbase/typestore/pkg/changefeed/memory"
	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

// DefaultMaxAttempts is the number of transaction attempts before giving up.
const DefaultMaxAttempts = 5

// Compile-time check that Driver implements driver.Driver
var _ driver.Driver = (*Driver)(nil)

type entry struct {
	collection string
	id         string
	data       map[string]interface{}
	version    int64
}

func (e *entry) raw() *driver.RawDoc {
	return &driver.RawDoc{
		Collection: e.collection,
		ID:         e.id,
		Data:       deepCopy(e.data).(map[string]interface{}),
		Version:    e.version,
	}
}

// Option configures the driver.
type Option func(*Driver)

// WithFeed publishes changes to feed and serves subscriptions from it. The
// driver does not close a feed passed this way.
func WithFeed(feed changefeed.Feed) Option {
	return func(d *Driver) {
		d.feed = feed
		d.ownsFeed = false
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMaxAttempts sets how many times a conflicting transaction runs.
func WithMaxAttempts(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// Driver is the in-process driver.
type Driver struct {
	mu   sync.RWMutex
	docs map[string]*entry // full path -> entry
	seq  int64

	compiler    *compiler
	feed        changefeed.Feed
	ownsFeed    bool
	logger      *slog.Logger
	maxAttempts int
	closed      atomic.Bool
}

// New creates an empty driver.
func New(opts ...Option) (*Driver, error) {
	c, err := newCompiler()
	if err != nil {
		return nil, err
	}
	d := &Driver{
		docs:        make(map[string]*entry),
		compiler:    c,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.feed == nil {
		d.feed = feedmemory.New(0)
		d.ownsFeed = true
	}
	return d, nil
}

func (d *Driver) checkOpen(ctx context.Context) error {
	if d.closed.Load() {
		return model.ErrClosed
	}
	return ctx.Err()
}

// FetchOne returns the document or nil.
func (d *Driver) FetchOne(ctx context.Context, ref model.Ref) (*driver.RawDoc, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, model.WrapDriverError("fetch", err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(ref), nil
}

// lookup returns a copy of the document. Caller must hold d.mu.
func (d *Driver) lookup(ref model.Ref) *driver.RawDoc {
	e, ok := d.docs[ref.String()]
	if !ok {
		return nil
	}
	return e.raw()
}

// FetchMany returns one entry per id, nil for missing documents.
func (d *Driver) FetchMany(ctx context.Context, collection string, ids []string) ([]*driver.RawDoc, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, model.WrapDriverError("fetch many", err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*driver.RawDoc, len(ids))
	for i, id := range ids {
		out[i] = d.lookup(model.Ref{Collection: collection, ID: id})
	}
	return out, nil
}

// FetchAll returns every document in scope ordered by path.
func (d *Driver) FetchAll(ctx context.Context, scope model.Scope) ([]*driver.RawDoc, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, model.WrapDriverError("fetch all", err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scan(scope), nil
}

// scan returns copies of the documents in scope ordered by path. Caller must hold d.mu.
func (d *Driver) scan(scope model.Scope) []*driver.RawDoc {
	var out []*driver.RawDoc
	for _, e := range d.docs {
		if scope.Matches(e.collection) {
			out = append(out, e.raw())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ref().String() < out[j].Ref().String()
	})
	if out == nil {
		out = []*driver.RawDoc{}
	}
	return out
}

// FetchQuery runs a query.
func (d *Driver) FetchQuery(ctx context.Context, scope model.Scope, nodes []model.QueryNode) ([]*driver.RawDoc, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, model.WrapDriverError("query", err)
	}
	if err := model.ValidateNodes(nodes); err != nil {
		return nil, model.WrapDriverError("query", err)
	}
	prg, err := d.compiler.compileNodes(nodes)
	if err != nil {
		return nil, model.WrapDriverError("query", err)
	}
	d.mu.RLock()
	docs := d.scan(scope)
	d.mu.RUnlock()
	return execute(prg, docs, nodes), nil
}

// Count returns the number of documents the query returns.
func (d *Driver) Count(ctx context.Context, scope model.Scope, nodes []model.QueryNode) (int, error) {
	docs, err := d.FetchQuery(ctx, scope, nodes)
	if err != nil {
		return 0, model.WrapDriverError("count", err)
	}
	return len(docs), nil
}

// Write applies ops atomically and publishes the resulting changes.
func (d *Driver) Write(ctx context.Context, ops ...model.WriteOp) error {
	if err := d.checkOpen(ctx); err != nil {
		return model.WrapDriverError("write", err)
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return model.WrapDriverError("write", err)
		}
	}
	d.mu.Lock()
	events, err := d.apply(ops)
	d.mu.Unlock()
	if err != nil {
		return model.WrapDriverError("write", err)
	}
	d.publish(events)
	return nil
}

// apply runs ops against the map, all or nothing. Caller must hold d.mu.
func (d *Driver) apply(ops []model.WriteOp) ([]changefeed.Event, error) {
	type result struct {
		data   map[string]interface{}
		exists bool
	}
	staged := make(map[string]result)
	order := make([]string, 0, len(ops))
	refs := make(map[string]model.Ref)

	for _, op := range ops {
		key := op.Ref.String()
		var current map[string]interface{}
		if r, ok := staged[key]; ok {
			if r.exists {
				current = r.data
			}
		} else if e, ok := d.docs[key]; ok {
			current = e.data
		}
		data, exists, err := op.Apply(current)
		if err != nil {
			return nil, err
		}
		if _, ok := staged[key]; !ok {
			order = append(order, key)
		}
		staged[key] = result{data: data, exists: exists}
		refs[key] = op.Ref
	}

	events := make([]changefeed.Event, 0, len(order))
	for _, key := range order {
		r := staged[key]
		ref := refs[key]
		prev, had := d.docs[key]
		switch {
		case r.exists:
			d.seq++
			d.docs[key] = &entry{collection: ref.Collection, id: ref.ID, data: deepCopy(r.data).(map[string]interface{}), version: d.seq}
			typ := changefeed.EventCreate
			if had {
				typ = changefeed.EventUpdate
			}
			events = append(events, changefeed.NewEvent(typ, ref, d.seq))
		case had:
			delete(d.docs, key)
			events = append(events, changefeed.NewEvent(changefeed.EventDelete, ref, prev.version))
		}
	}
	return events, nil
}

func (d *Driver) publish(events []changefeed.Event) {
	for _, ev := range events {
		if err := d.feed.Publish(context.Background(), ev); err != nil {
			d.logger.Warn("Failed to publish change", "collection", ev.Collection, "id", ev.ID, "error", err)
		}
	}
}

// Close stops subscriptions. Later calls fail with model.ErrClosed.
func (d *Driver) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	if d.ownsFeed {
		return d.feed.Close()
	}
	return nil
}

// deepCopy copies maps and slices so stored data never aliases caller data.
func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	}
	return v
}
