package mongo

import (
	"context"
	"log/slog"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	"github.com/syntrixbase/typestore/pkg/model"
)

// streamFeed is a changefeed.Feed backed by change streams, so it sees
// writes from every process sharing the collection. Publish does nothing.
type streamFeed struct {
	coll   *mongo.Collection
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
	closed  bool
}

func newStreamFeed(coll *mongo.Collection, logger *slog.Logger) *streamFeed {
	return &streamFeed{coll: coll, logger: logger, cancels: make(map[int]context.CancelFunc)}
}

func (f *streamFeed) Publish(ctx context.Context, ev changefeed.Event) error {
	return nil
}

// watchPipeline selects changes to documents in scope.
func watchPipeline(scope model.Scope) mongo.Pipeline {
	field := "fullDocument.collection"
	if scope.IsGroup() {
		field = "fullDocument.name"
	}
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.M{"$in": bson.A{"insert", "update", "replace"}}},
			{Key: field, Value: scope.Path()},
		}}},
	}
}

// streamEvent maps a change stream entry to a change. TTL expiry of a soft
// deleted document carries no full document and is skipped.
func streamEvent(op string, doc *storedDoc) (changefeed.Event, bool) {
	if doc == nil {
		return changefeed.Event{}, false
	}
	var typ changefeed.EventType
	switch {
	case op != "insert" && op != "update" && op != "replace":
		return changefeed.Event{}, false
	case doc.Deleted:
		typ = changefeed.EventDelete
	case op == "insert" || doc.Version == 1:
		typ = changefeed.EventCreate
	default:
		typ = changefeed.EventUpdate
	}
	return changefeed.NewEvent(typ, doc.ref(), doc.Version), true
}

func (f *streamFeed) Subscribe(scope model.Scope, handler changefeed.Handler) (func(), error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, model.ErrClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := f.nextID
	f.nextID++
	f.cancels[id] = cancel
	f.mu.Unlock()

	stream, err := f.coll.Watch(ctx, watchPipeline(scope), options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		f.drop(id)
		return nil, err
	}

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var change struct {
				OperationType string     `bson:"operationType"`
				FullDocument  *storedDoc `bson:"fullDocument"`
			}
			if err := stream.Decode(&change); err != nil {
				f.logger.Warn("Failed to decode change", "error", err)
				continue
			}
			if ev, ok := streamEvent(change.OperationType, change.FullDocument); ok {
				handler(ev)
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			f.logger.Error("Change stream stopped", "scope", scope.String(), "error", err)
		}
	}()

	return func() { f.drop(id) }, nil
}

func (f *streamFeed) drop(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cancel, ok := f.cancels[id]; ok {
		cancel()
		delete(f.cancels, id)
	}
}

func (f *streamFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, cancel := range f.cancels {
		cancel()
		delete(f.cancels, id)
	}
	return nil
}
