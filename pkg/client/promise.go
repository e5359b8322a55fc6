package client

import (
	"context"
	"fmt"

	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
	"github.com/syntrixbase/typestore/pkg/subscription"
)

// DocPromise resolves to a single document, nil when it does not exist.
type DocPromise = subscription.Promise[*model.Document]

// DocsPromise resolves to a list of documents.
type DocsPromise = subscription.Promise[[]*model.Document]

// QueryPromise is a query result that can also be counted.
type QueryPromise struct {
	*DocsPromise
	db *DB
}

// Count asks the driver for the number of matching documents only.
func (p *QueryPromise) Count(ctx context.Context) (int, error) {
	req := p.Request()
	p.db.logger.Debug("Dispatching count", "request", req.String())
	n, err := p.db.drv.Count(ctx, req.Scope, req.Queries)
	return n, model.WrapDriverError("count", err)
}

func (db *DB) docPromise(req model.Request, ro readOptions) *DocPromise {
	ref := model.Ref{Collection: req.Path(), ID: req.ID}
	fetch := func(ctx context.Context) (*model.Document, error) {
		db.logger.Debug("Dispatching request", "request", req.String())
		raw, err := db.drv.FetchOne(ctx, ref)
		if err != nil {
			return nil, model.WrapDriverError("get", err)
		}
		return db.decode(raw, ro)
	}
	subscribe := func(onResult func(*model.Document), onError func(error)) (func(), error) {
		return db.subscribe(req, ro, func(docs []*model.Document) {
			var doc *model.Document
			if len(docs) > 0 {
				doc = docs[0]
			}
			onResult(doc)
		}, onError)
	}
	return subscription.New(req, fetch, subscribe, subscription.WithLogger(db.logger))
}

func (db *DB) docsPromise(req model.Request, ro readOptions) *DocsPromise {
	fetch := func(ctx context.Context) ([]*model.Document, error) {
		db.logger.Debug("Dispatching request", "request", req.String())
		raws, err := db.fetch(ctx, req)
		if err != nil {
			return nil, model.WrapDriverError(string(req.Kind), err)
		}
		return db.decodeAll(raws, ro)
	}
	subscribe := func(onResult func([]*model.Document), onError func(error)) (func(), error) {
		return db.subscribe(req, ro, onResult, onError)
	}
	return subscription.New(req, fetch, subscribe, subscription.WithLogger(db.logger))
}

func (db *DB) fetch(ctx context.Context, req model.Request) ([]*driver.RawDoc, error) {
	switch req.Kind {
	case model.KindMany:
		return db.drv.FetchMany(ctx, req.Path(), req.IDs)
	case model.KindAll:
		return db.drv.FetchAll(ctx, req.Scope)
	case model.KindQuery:
		return db.drv.FetchQuery(ctx, req.Scope, req.Queries)
	}
	return nil, fmt.Errorf("%s requests: %w", req.Kind, model.ErrUnsupported)
}

func (db *DB) subscribe(req model.Request, ro readOptions, onResult func([]*model.Document), onError func(error)) (func(), error) {
	db.logger.Debug("Subscribing", "request", req.String())
	unsub, err := db.drv.Subscribe(req, func(raws []*driver.RawDoc) {
		docs, err := db.decodeAll(raws, ro)
		if err != nil {
			onError(err)
			return
		}
		onResult(docs)
	}, func(err error) {
		onError(model.WrapDriverError("subscribe", err))
	})
	if err != nil {
		return nil, model.WrapDriverError("subscribe", err)
	}
	return func() { unsub() }, nil
}
