// Package driver defines the database capabilities the client consumes.
package driver

import (
	"context"

	"github.com/syntrixbase/typestore/pkg/model"
)

// RawDoc is a document as returned by a driver, before decoding.
type RawDoc struct {
	// Collection is the slash separated collection path holding the document
	Collection string `json:"collection"`

	// ID is the document id inside the collection
	ID string `json:"id"`

	// Data is the stored content, possibly holding driver specific scalars
	Data map[string]interface{} `json:"data"`

	// Version is the optimistic concurrency control version, 0 when unknown
	Version int64 `json:"version"`

	// FromCache tells the snapshot came from a local cache
	FromCache bool `json:"fromCache,omitempty"`
}

// Ref returns the document reference.
func (d *RawDoc) Ref() model.Ref {
	return model.Ref{Collection: d.Collection, ID: d.ID}
}

// Unsubscribe releases a live subscription. It must be safe to call twice.
type Unsubscribe func()

// Tx is the view of the database inside one transaction attempt.
type Tx interface {
	// Get reads a document, nil when missing.
	Get(ctx context.Context, ref model.Ref) (*RawDoc, error)

	// Write queues writes, applied when the attempt commits.
	Write(ops ...model.WriteOp) error
}

// Driver executes requests against a database.
type Driver interface {
	// FetchOne returns the document or nil when it does not exist.
	FetchOne(ctx context.Context, ref model.Ref) (*RawDoc, error)

	// FetchMany returns one entry per id, nil for missing documents.
	FetchMany(ctx context.Context, collection string, ids []string) ([]*RawDoc, error)

	// FetchAll returns every document in scope.
	FetchAll(ctx context.Context, scope model.Scope) ([]*RawDoc, error)

	// FetchQuery returns the documents in scope matching nodes.
	FetchQuery(ctx context.Context, scope model.Scope, nodes []model.QueryNode) ([]*RawDoc, error)

	// Count returns the number of documents in scope matching nodes.
	Count(ctx context.Context, scope model.Scope, nodes []model.QueryNode) (int, error)

	// Subscribe pushes the full result of req every time it changes. For get
	// requests the slice holds exactly one element, nil when missing.
	Subscribe(req model.Request, onNext func([]*RawDoc), onError func(error)) (Unsubscribe, error)

	// RunTransaction runs fn until it commits without conflict or the driver
	// gives up. Writes queued on tx are applied once, on commit.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Write applies ops atomically.
	Write(ctx context.Context, ops ...model.WriteOp) error

	// Close releases driver resources.
	Close(ctx context.Context) error
}

// Decoder turns raw stored data into plain document data: driver specific
// scalars unwrapped, server dates normalized.
type Decoder func(raw *RawDoc) (map[string]interface{}, error)

// Identity is the default decoder.
func Identity(raw *RawDoc) (map[string]interface{}, error) {
	return raw.Data, nil
}
