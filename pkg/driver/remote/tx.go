package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

// tx records the version of every document it reads. The gateway applies
// the writes only when those versions still hold.
type tx struct {
	d      *Driver
	reads  map[string]ReadVersion
	order  []string
	writes []model.WriteOp
}

func (t *tx) Get(ctx context.Context, ref model.Ref) (*driver.RawDoc, error) {
	doc, err := t.d.FetchOne(ctx, ref)
	if err != nil {
		return nil, err
	}
	key := ref.String()
	if _, seen := t.reads[key]; !seen {
		var version int64
		if doc != nil {
			version = doc.Version
		}
		t.reads[key] = ReadVersion{Ref: ref, Version: version}
		t.order = append(t.order, key)
	}
	return doc, nil
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

func (t *tx) request() CommitRequest {
	req := CommitRequest{Reads: make([]ReadVersion, 0, len(t.order)), Ops: t.writes}
	for _, key := range t.order {
		req.Reads = append(req.Reads, t.reads[key])
	}
	return req
}

// RunTransaction runs fn locally and commits through the gateway, retrying
// when a read document changed before the commit.
func (d *Driver) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx driver.Tx) error) error {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := d.checkOpen(ctx); err != nil {
			return model.WrapDriverError("transaction", err)
		}
		t := &tx{d: d, reads: make(map[string]ReadVersion)}
		if err := fn(ctx, t); err != nil {
			return err
		}

		err := d.do(ctx, http.MethodPost, commitPath, t.request(), nil)
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrTransactionConflict) {
			return model.WrapDriverError("transaction", err)
		}
		d.logger.Warn("Transaction conflict, retrying", "attempt", attempt, "max_attempts", d.maxAttempts)
	}
	return model.WrapDriverError("transaction", fmt.Errorf("gave up after %d attempts: %w", d.maxAttempts, model.ErrTransactionConflict))
}
