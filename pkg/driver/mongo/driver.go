// Package mongo stores documents in one MongoDB collection, the way syntrix
// lays them out: the _id is the BLAKE3 hash of the full path, content lives
// under "data" and deletes are soft until a TTL index removes them.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	feedmemory "github.com/syntrixbase/typestore/pkg/changefeed/memory"
	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

const (
	DefaultCollection          = "documents"
	DefaultSoftDeleteRetention = 5 * time.Minute
	DefaultMaxAttempts         = 5
)

// Compile-time check that Driver implements driver.Driver
var _ driver.Driver = (*Driver)(nil)

// mongoConnect is replaced in tests.
var mongoConnect = mongo.Connect

// Options configures the driver.
type Options struct {
	URI        string
	Database   string
	Collection string

	// SoftDeleteRetention is how long removed documents are kept
	SoftDeleteRetention time.Duration

	// Watch serves subscriptions from change streams, which need a replica set
	Watch bool

	// Feed receives the changes the driver writes when Watch is off. The
	// driver does not close it. An in-memory broker is used when nil.
	Feed changefeed.Feed

	Logger      *slog.Logger
	MaxAttempts int
}

func (o *Options) applyDefaults() {
	if o.Collection == "" {
		o.Collection = DefaultCollection
	}
	if o.SoftDeleteRetention == 0 {
		o.SoftDeleteRetention = DefaultSoftDeleteRetention
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
}

// Driver is the MongoDB driver.
type Driver struct {
	client      *mongo.Client
	db          *mongo.Database
	coll        *mongo.Collection
	retention   time.Duration
	feed        changefeed.Feed
	publishes   bool
	ownsFeed    bool
	logger      *slog.Logger
	maxAttempts int
	closed      atomic.Bool
}

// Connect dials MongoDB, verifies the connection and ensures indexes.
func Connect(ctx context.Context, opts Options) (*Driver, error) {
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	client, err := mongoConnect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = client.Disconnect(context.Background())
		}
	}()

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	d := New(client, opts)
	if err := d.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	success = true
	return d, nil
}

// New wraps a connected client.
func New(client *mongo.Client, opts Options) *Driver {
	opts.applyDefaults()
	db := client.Database(opts.Database)
	d := &Driver{
		client:      client,
		db:          db,
		coll:        db.Collection(opts.Collection),
		retention:   opts.SoftDeleteRetention,
		logger:      opts.Logger,
		maxAttempts: opts.MaxAttempts,
	}
	switch {
	case opts.Watch:
		d.feed = newStreamFeed(d.coll, d.logger)
		d.ownsFeed = true
	case opts.Feed != nil:
		d.feed = opts.Feed
		d.publishes = true
	default:
		d.feed = feedmemory.New(0)
		d.ownsFeed = true
		d.publishes = true
	}
	return d
}

// EnsureIndexes creates the scope indexes and the soft delete TTL index.
func (d *Driver) EnsureIndexes(ctx context.Context) error {
	_, err := d.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "fullpath", Value: 1}}},
		{Keys: bson.D{{Key: "name", Value: 1}, {Key: "fullpath", Value: 1}}},
		{
			Keys:    bson.D{{Key: "sys_expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	return err
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
	var doc storedDoc
	err := d.coll.FindOne(ctx, bson.M{"_id": CalculateID(ref.String()), notDeleted: bson.M{"$ne": true}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, model.WrapDriverError("fetch", err)
	}
	return doc.raw(), nil
}

// FetchMany returns one entry per id, nil for missing documents.
func (d *Driver) FetchMany(ctx context.Context, collection string, ids []string) ([]*driver.RawDoc, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, model.WrapDriverError("fetch many", err)
	}
	out := make([]*driver.RawDoc, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	hashes := make(bson.A, len(ids))
	for i, id := range ids {
		hashes[i] = CalculateID(model.Ref{Collection: collection, ID: id}.String())
	}
	docs, err := d.find(ctx, bson.D{{Key: "_id", Value: bson.M{"$in": hashes}}, {Key: notDeleted, Value: bson.M{"$ne": true}}}, options.Find())
	if err != nil {
		return nil, model.WrapDriverError("fetch many", err)
	}
	byPath := make(map[string]*driver.RawDoc, len(docs))
	for _, doc := range docs {
		byPath[doc.Ref().String()] = doc
	}
	for i, id := range ids {
		out[i] = byPath[model.Ref{Collection: collection, ID: id}.String()]
	}
	return out, nil
}

// FetchAll returns every document in scope ordered by path.
func (d *Driver) FetchAll(ctx context.Context, scope model.Scope) ([]*driver.RawDoc, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, model.WrapDriverError("fetch all", err)
	}
	docs, err := d.find(ctx, scopeFilter(scope), options.Find().SetSort(bson.D{{Key: "fullpath", Value: 1}}))
	if err != nil {
		return nil, model.WrapDriverError("fetch all", err)
	}
	return docs, nil
}

// FetchQuery runs a query.
func (d *Driver) FetchQuery(ctx context.Context, scope model.Scope, nodes []model.QueryNode) ([]*driver.RawDoc, error) {
	if err := d.checkOpen(ctx); err != nil {
		return nil, model.WrapDriverError("query", err)
	}
	p, err := buildPlan(scope, nodes)
	if err != nil {
		return nil, model.WrapDriverError("query", err)
	}
	if p.limit == 0 {
		return []*driver.RawDoc{}, nil
	}
	opts := options.Find().SetSort(p.sort)
	if p.limit > 0 {
		opts.SetLimit(p.limit)
	}
	docs, err := d.find(ctx, p.filter, opts)
	if err != nil {
		return nil, model.WrapDriverError("query", err)
	}
	return docs, nil
}

// Count returns the number of documents the query returns.
func (d *Driver) Count(ctx context.Context, scope model.Scope, nodes []model.QueryNode) (int, error) {
	if err := d.checkOpen(ctx); err != nil {
		return 0, model.WrapDriverError("count", err)
	}
	p, err := buildPlan(scope, nodes)
	if err != nil {
		return 0, model.WrapDriverError("count", err)
	}
	if p.limit == 0 {
		return 0, nil
	}
	opts := options.Count()
	if p.limit > 0 {
		opts.SetLimit(p.limit)
	}
	n, err := d.coll.CountDocuments(ctx, p.filter, opts)
	if err != nil {
		return 0, model.WrapDriverError("count", err)
	}
	return int(n), nil
}

func (d *Driver) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]*driver.RawDoc, error) {
	cursor, err := d.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []storedDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*driver.RawDoc, len(docs))
	for i := range docs {
		out[i] = docs[i].raw()
	}
	return out, nil
}

// Subscribe delivers the current result of req and a new full result after
// every change in its scope.
func (d *Driver) Subscribe(req model.Request, onNext func([]*driver.RawDoc), onError func(error)) (driver.Unsubscribe, error) {
	if d.closed.Load() {
		return nil, model.WrapDriverError("subscribe", model.ErrClosed)
	}
	return driver.SubscribeFeed(d.feed, d, req, onNext, onError, d.logger)
}

// Close stops subscriptions and disconnects.
func (d *Driver) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	var errs []error
	if d.ownsFeed {
		errs = append(errs, d.feed.Close())
	}
	errs = append(errs, d.client.Disconnect(ctx))
	return errors.Join(errs...)
}
