package client

import (
	"context"
	"fmt"

	"github.com/syntrixbase/typestore/pkg/model"
	"github.com/syntrixbase/typestore/pkg/schema"
)

// Collection is a declared collection at a concrete path.
type Collection struct {
	reader
	decl *schema.Decl
	path string
}

func newCollection(db *DB, decl *schema.Decl, path string) *Collection {
	return &Collection{
		reader: reader{db: db, scope: model.CollectionScope(path), shape: decl.Shape()},
		decl:   decl,
		path:   path,
	}
}

// Path returns the full collection path, e.g. "orders/o1/updates".
func (c *Collection) Path() string { return c.path }

// Name returns the collection name stored in the database.
func (c *Collection) Name() string { return c.decl.Name() }

// Decl returns the collection declaration.
func (c *Collection) Decl() *schema.Decl { return c.decl }

// Doc returns a reference to the document id.
func (c *Collection) Doc(id string) (*DocRef, error) {
	ref, err := model.NewRef(c.path, id)
	if err != nil {
		return nil, err
	}
	return &DocRef{coll: c, ref: ref}, nil
}

// Sub returns the subcollection key of document id.
func (c *Collection) Sub(id, key string) (*Collection, error) {
	doc, err := c.Doc(id)
	if err != nil {
		return nil, err
	}
	return doc.Sub(key)
}

// MustSub is like Sub but panics on error.
func (c *Collection) MustSub(id, key string) *Collection {
	sub, err := c.Sub(id, key)
	if err != nil {
		panic(err)
	}
	return sub
}

// Get reads one document. The promise resolves to nil when it does not exist.
func (c *Collection) Get(id string, opts ...ReadOption) (*DocPromise, error) {
	if !model.CheckDocumentID(id) {
		return nil, model.NewQueryError(model.ErrInvalidID, "%q", id)
	}
	ro, err := c.db.prepare(opts)
	if err != nil {
		return nil, err
	}
	req := model.Request{Kind: model.KindGet, Scope: c.scope, ID: id}
	return c.db.docPromise(req, ro), nil
}

// Many reads documents by id. Results are aligned with ids, nil for missing
// documents.
func (c *Collection) Many(ids []string, opts ...ReadOption) (*DocsPromise, error) {
	for _, id := range ids {
		if !model.CheckDocumentID(id) {
			return nil, model.NewQueryError(model.ErrInvalidID, "%q", id)
		}
	}
	ro, err := c.db.prepare(opts)
	if err != nil {
		return nil, err
	}
	req := model.Request{Kind: model.KindMany, Scope: c.scope, IDs: append([]string{}, ids...)}
	return c.db.docsPromise(req, ro), nil
}

// Op builds a write op on document id. data is a map or a value with a json
// object encoding; it is ignored for removes.
func (c *Collection) Op(kind model.WriteKind, id string, data interface{}) (model.WriteOp, error) {
	ref, err := model.NewRef(c.path, id)
	if err != nil {
		return model.WriteOp{}, err
	}
	op := model.WriteOp{Kind: kind, Ref: ref}
	if kind != model.WriteRemove {
		if op.Data, err = toData(data); err != nil {
			return model.WriteOp{}, err
		}
	}
	if err := op.Validate(); err != nil {
		return model.WriteOp{}, err
	}
	return op, nil
}

func (c *Collection) write(ctx context.Context, kind model.WriteKind, id string, data interface{}) error {
	op, err := c.Op(kind, id, data)
	if err != nil {
		return err
	}
	return c.db.Write(ctx, op)
}

// Set replaces document id.
func (c *Collection) Set(ctx context.Context, id string, data interface{}) error {
	return c.write(ctx, model.WriteSet, id, data)
}

// Update merges data into the existing document id.
func (c *Collection) Update(ctx context.Context, id string, data interface{}) error {
	return c.write(ctx, model.WriteUpdate, id, data)
}

// Upset merges data into document id, creating it when missing.
func (c *Collection) Upset(ctx context.Context, id string, data interface{}) error {
	return c.write(ctx, model.WriteUpset, id, data)
}

// Remove deletes document id.
func (c *Collection) Remove(ctx context.Context, id string) error {
	return c.write(ctx, model.WriteRemove, id, nil)
}

// Add creates a document under a generated id.
func (c *Collection) Add(ctx context.Context, data interface{}) (model.Ref, error) {
	id := c.db.ID()
	if err := c.Set(ctx, id, data); err != nil {
		return model.Ref{}, err
	}
	return model.Ref{Collection: c.path, ID: id}, nil
}

// DocRef points at one document slot of a collection.
type DocRef struct {
	coll *Collection
	ref  model.Ref
}

// Ref returns the plain reference.
func (d *DocRef) Ref() model.Ref { return d.ref }

// ID returns the document id.
func (d *DocRef) ID() string { return d.ref.ID }

// Collection returns the collection holding the document.
func (d *DocRef) Collection() *Collection { return d.coll }

// Get reads the document.
func (d *DocRef) Get(opts ...ReadOption) (*DocPromise, error) {
	return d.coll.Get(d.ref.ID, opts...)
}

// Set replaces the document.
func (d *DocRef) Set(ctx context.Context, data interface{}) error {
	return d.coll.Set(ctx, d.ref.ID, data)
}

// Update merges data into the document.
func (d *DocRef) Update(ctx context.Context, data interface{}) error {
	return d.coll.Update(ctx, d.ref.ID, data)
}

// Upset merges data into the document, creating it when missing.
func (d *DocRef) Upset(ctx context.Context, data interface{}) error {
	return d.coll.Upset(ctx, d.ref.ID, data)
}

// Remove deletes the document.
func (d *DocRef) Remove(ctx context.Context) error {
	return d.coll.Remove(ctx, d.ref.ID)
}

// Sub returns the subcollection key nested under the document.
func (d *DocRef) Sub(key string) (*Collection, error) {
	decl, err := d.coll.decl.Sub(key)
	if err != nil {
		return nil, err
	}
	return newCollection(d.coll.db, decl, fmt.Sprintf("%s/%s", d.ref, decl.Name())), nil
}
