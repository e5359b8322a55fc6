// Package transaction sequences a read phase and a write phase inside one
// driver transaction. Both phases may run several times when the driver
// retries on conflict, so they must have no side effects besides the writes
// they queue.
package transaction

import (
	"context"
	"fmt"

	"github.com/syntrixbase/typestore/pkg/client"
	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

// ReadFunc declares the documents a transaction reads.
type ReadFunc func(r *ReadHelpers) Reads

// WriteFunc receives the read documents and queues writes. A returned
// model.WriteOp or []model.WriteOp is applied too.
type WriteFunc[T any] func(w *WriteHelpers) (T, error)

// Transaction is the builder form of Run.
type Transaction struct {
	db   *client.DB
	read ReadFunc
}

// New starts a transaction on db.
func New(db *client.DB) *Transaction {
	return &Transaction{db: db}
}

// Read sets the read phase.
func (t *Transaction) Read(fn ReadFunc) *Transaction {
	t.read = fn
	return t
}

// Write runs the transaction with fn as write phase and returns fn's value
// from the committed attempt.
func (t *Transaction) Write(ctx context.Context, fn WriteFunc[interface{}]) (interface{}, error) {
	return Run(ctx, t.db, t.read, fn)
}

// Run runs read then write inside one driver transaction. Writes reach the
// driver once per attempt, after the write phase returned, and commit only
// with the attempt. A nil read phase reads nothing.
func Run[T any](ctx context.Context, db *client.DB, read ReadFunc, write WriteFunc[T]) (T, error) {
	var zero, result T
	attempt := 0

	err := db.Driver().RunTransaction(ctx, func(ctx context.Context, tx driver.Tx) error {
		attempt++
		db.Logger().Debug("Transaction attempt", "attempt", attempt)

		w, err := readPhase(ctx, db, tx, read)
		if err != nil {
			return err
		}

		res, err := write(w)
		if err != nil {
			return err
		}
		ops := w.ops
		switch v := any(res).(type) {
		case model.WriteOp:
			ops = append(ops, v)
		case []model.WriteOp:
			ops = append(ops, v...)
		}
		if len(ops) > 0 {
			if err := tx.Write(ops...); err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}

func readPhase(ctx context.Context, db *client.DB, tx driver.Tx, read ReadFunc) (*WriteHelpers, error) {
	w := &WriteHelpers{db: db}
	if read == nil {
		return w, nil
	}

	fetch := func(rd *Read) (*Doc, error) {
		if rd == nil {
			return nil, nil
		}
		if rd.err != nil {
			return nil, rd.err
		}
		db.Logger().Debug("Transaction read", "request", rd.Request().String())
		raw, err := tx.Get(ctx, rd.ref)
		if err != nil {
			return nil, model.WrapDriverError("transaction read", err)
		}
		doc, err := db.Decode(raw)
		if err != nil || doc == nil {
			return nil, err
		}
		return &Doc{Document: doc, coll: rd.coll, w: w}, nil
	}

	var err error
	switch reads := read(&ReadHelpers{db: db}).(type) {
	case nil:
	case *Read:
		w.single, err = fetch(reads)
	case ReadMap:
		w.byKey = make(map[string]*Doc, len(reads))
		for key, rd := range reads {
			if w.byKey[key], err = fetch(rd); err != nil {
				break
			}
		}
	case ReadList:
		w.list = make([]*Doc, len(reads))
		for i, rd := range reads {
			if w.list[i], err = fetch(rd); err != nil {
				break
			}
		}
	default:
		err = fmt.Errorf("unsupported reads %T: %w", reads, model.ErrInvalidQuery)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}
