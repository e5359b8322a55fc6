package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

var errGaveUp = errors.New("transaction attempts exhausted")

// tx reads through the session context and queues writes until commit.
type tx struct {
	d      *Driver
	writes []model.WriteOp
}

func (t *tx) Get(ctx context.Context, ref model.Ref) (*driver.RawDoc, error) {
	return t.d.FetchOne(ctx, ref)
}

func (t *tx) Write(ops ...model.WriteOp) error {
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
	}
	t.writes = append(t.writes, ops...)
	return nil
}

// RunTransaction runs fn in a session transaction. MongoDB aborts attempts
// that hit a write conflict and WithTransaction retries them, up to the
// configured number of attempts.
func (d *Driver) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx driver.Tx) error) error {
	if err := d.checkOpen(ctx); err != nil {
		return model.WrapDriverError("transaction", err)
	}
	session, err := d.client.StartSession()
	if err != nil {
		return model.WrapDriverError("transaction", err)
	}
	defer session.EndSession(ctx)

	var (
		attempt int
		userErr error
		events  []*changefeed.Event
	)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		attempt++
		if attempt > d.maxAttempts {
			return nil, errGaveUp
		}
		if attempt > 1 {
			d.logger.Warn("Transaction conflict, retrying", "attempt", attempt, "max_attempts", d.maxAttempts)
		}
		userErr = nil
		events = events[:0]

		t := &tx{d: d}
		if err := fn(sc, t); err != nil {
			userErr = err
			return nil, err
		}
		for _, op := range t.writes {
			ev, err := d.apply(sc, op)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
		return nil, nil
	})

	switch {
	case err == nil:
		for _, ev := range events {
			d.publish(ev)
		}
		return nil
	case errors.Is(err, errGaveUp) || isTransient(err):
		return model.WrapDriverError("transaction", fmt.Errorf("gave up after %d attempts: %w", d.maxAttempts, model.ErrTransactionConflict))
	case userErr != nil && errors.Is(err, userErr):
		return userErr
	}
	return model.WrapDriverError("transaction", err)
}

func isTransient(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel("TransientTransactionError") || se.HasErrorLabel("UnknownTransactionCommitResult")
	}
	return false
}
