package client

import (
	"context"

	"github.com/syntrixbase/typestore/pkg/model"
	"github.com/syntrixbase/typestore/pkg/query"
	"github.com/syntrixbase/typestore/pkg/schema"
)

// reader holds the read operations shared by collections and groups.
type reader struct {
	db    *DB
	scope model.Scope
	shape *schema.Shape
}

// Scope returns the scope requests run against.
func (r reader) Scope() model.Scope { return r.scope }

// All reads every document in scope.
func (r reader) All(opts ...ReadOption) (*DocsPromise, error) {
	ro, err := r.db.prepare(opts)
	if err != nil {
		return nil, err
	}
	return r.db.docsPromise(model.Request{Kind: model.KindAll, Scope: r.scope}, ro), nil
}

// Query runs fn against the document shape. It returns nil, nil when fn
// returns nil, meaning the query is not ready yet.
func (r reader) Query(fn query.Func, opts ...ReadOption) (*QueryPromise, error) {
	ro, err := r.db.prepare(opts)
	if err != nil {
		return nil, err
	}
	req, err := query.Request(r.scope, r.shape, fn)
	if err != nil || req == nil {
		return nil, err
	}
	return &QueryPromise{DocsPromise: r.db.docsPromise(*req, ro), db: r.db}, nil
}

// Build starts an imperative query.
func (r reader) Build(opts ...ReadOption) *Builder {
	return &Builder{Builder: query.NewBuilder(r.scope, r.shape), db: r.db, opts: opts}
}

// Count returns the number of documents in scope.
func (r reader) Count(ctx context.Context) (int, error) {
	n, err := r.db.drv.Count(ctx, r.scope, nil)
	return n, model.WrapDriverError("count", err)
}

// Builder is an imperative query bound to a DB.
type Builder struct {
	*query.Builder
	db   *DB
	opts []ReadOption
}

// Run builds the request and returns its promise.
func (b *Builder) Run() (*QueryPromise, error) {
	ro, err := b.db.prepare(b.opts)
	if err != nil {
		return nil, err
	}
	req, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &QueryPromise{DocsPromise: b.db.docsPromise(req, ro), db: b.db}, nil
}
