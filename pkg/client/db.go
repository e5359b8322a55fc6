// Package client is the typed entry point: a DB bound to a driver and a
// schema, collections and collection groups that build requests, and the
// dual-mode promises those requests resolve through.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
	"github.com/syntrixbase/typestore/pkg/schema"
)

// DB binds a driver to a declared schema.
type DB struct {
	drv     driver.Driver
	schema  *schema.Schema
	decoder driver.Decoder
	env     model.Environment
	logger  *slog.Logger
	closers []func() error
}

// Option configures a DB.
type Option func(*DB)

// WithDecoder sets the function turning raw stored data into document data.
func WithDecoder(dec driver.Decoder) Option {
	return func(db *DB) {
		if dec != nil {
			db.decoder = dec
		}
	}
}

// WithEnvironment sets the runtime environment documents are read in.
func WithEnvironment(env model.Environment) Option {
	return func(db *DB) {
		if env != "" {
			db.env = env
		}
	}
}

// WithLogger sets the logger used by the DB and the promises it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// withCloser registers a resource released after the driver on Close.
func withCloser(fn func() error) Option {
	return func(db *DB) {
		db.closers = append(db.closers, fn)
	}
}

// New creates a DB. The environment defaults to server.
func New(drv driver.Driver, s *schema.Schema, opts ...Option) *DB {
	db := &DB{
		drv:     drv,
		schema:  s,
		decoder: driver.Identity,
		env:     model.EnvServer,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// ID generates a new document id.
func (db *DB) ID() string {
	return uuid.NewString()
}

// Environment returns the runtime environment.
func (db *DB) Environment() model.Environment { return db.env }

// Driver returns the underlying driver.
func (db *DB) Driver() driver.Driver { return db.drv }

// Schema returns the declared schema.
func (db *DB) Schema() *schema.Schema { return db.schema }

// Logger returns the DB logger.
func (db *DB) Logger() *slog.Logger { return db.logger }

// Collection returns the root collection declared under key.
func (db *DB) Collection(key string) (*Collection, error) {
	decl, err := db.schema.Collection(key)
	if err != nil {
		return nil, err
	}
	return newCollection(db, decl, decl.Name()), nil
}

// MustCollection is like Collection but panics on an undeclared key.
func (db *DB) MustCollection(key string) *Collection {
	c, err := db.Collection(key)
	if err != nil {
		panic(err)
	}
	return c
}

// Write applies ops atomically.
func (db *DB) Write(ctx context.Context, ops ...model.WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	db.logger.Debug("Dispatching write", "ops", len(ops), "first", ops[0].String())
	return model.WrapDriverError("write", db.drv.Write(ctx, ops...))
}

// Close closes the driver and every resource opened with it.
func (db *DB) Close(ctx context.Context) error {
	errs := []error{db.drv.Close(ctx)}
	for _, fn := range db.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

// Decode turns a raw driver document into a Document, nil for nil.
func (db *DB) Decode(raw *driver.RawDoc, opts ...ReadOption) (*model.Document, error) {
	ro := db.readOptions(opts)
	return db.decode(raw, ro)
}

func (db *DB) decode(raw *driver.RawDoc, ro readOptions) (*model.Document, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := db.decoder(raw)
	if err != nil {
		db.logger.Warn("Failed to decode document", "ref", raw.Ref().String(), "error", err)
		return nil, model.WrapDriverError("decode", fmt.Errorf("%s: %w", raw.Ref(), err))
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	source := model.SourceDatabase
	if raw.FromCache {
		source = model.SourceCache
	}
	return &model.Document{
		Ref:     raw.Ref(),
		Data:    data,
		Version: raw.Version,
		Props: model.Props{
			Environment:  db.env,
			Source:       source,
			DateStrategy: ro.dates,
		},
	}, nil
}

func (db *DB) decodeAll(raws []*driver.RawDoc, ro readOptions) ([]*model.Document, error) {
	docs := make([]*model.Document, len(raws))
	for i, raw := range raws {
		doc, err := db.decode(raw, ro)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}
	return docs, nil
}

// toData converts write input into document data. Maps are used as given,
// anything else goes through its json encoding.
func toData(v interface{}) (map[string]interface{}, error) {
	switch data := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return data, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document data: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("document data must encode to an object: %w", err)
	}
	return out, nil
}
