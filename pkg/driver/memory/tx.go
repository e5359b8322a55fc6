package memory

import (
	"context"
	"fmt"

	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

// tx records the versions it read and the writes it queued. Commit fails
// with a conflict when any read document changed in between.
type tx struct {
	d      *Driver
	reads  map[string]int64 // full path -> version, 0 when missing
	writes []model.WriteOp
}

func (t *tx) Get(ctx context.Context, ref model.Ref) (*driver.RawDoc, error) {
	if err := t.d.checkOpen(ctx); err != nil {
		return nil, model.WrapDriverError("transaction get", err)
	}
	t.d.mu.RLock()
	defer t.d.mu.RUnlock()
	doc := t.d.lookup(ref)
	var version int64
	if doc != nil {
		version = doc.Version
	}
	if _, seen := t.reads[ref.String()]; !seen {
		t.reads[ref.String()] = version
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

// RunTransaction runs fn with optimistic concurrency control, retrying on
// conflict up to the configured number of attempts.
func (d *Driver) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx driver.Tx) error) error {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := d.checkOpen(ctx); err != nil {
			return model.WrapDriverError("transaction", err)
		}
		t := &tx{d: d, reads: make(map[string]int64)}
		if err := fn(ctx, t); err != nil {
			return err
		}

		committed, err := d.commit(t)
		if err != nil {
			return model.WrapDriverError("transaction", err)
		}
		if committed {
			return nil
		}
		d.logger.Warn("Transaction conflict, retrying", "attempt", attempt, "max_attempts", d.maxAttempts)
	}
	return model.WrapDriverError("transaction", fmt.Errorf("gave up after %d attempts: %w", d.maxAttempts, model.ErrTransactionConflict))
}

func (d *Driver) commit(t *tx) (bool, error) {
	d.mu.Lock()
	for path, version := range t.reads {
		var current int64
		if e, ok := d.docs[path]; ok {
			current = e.version
		}
		if current != version {
			d.mu.Unlock()
			return false, nil
		}
	}
	events, err := d.apply(t.writes)
	d.mu.Unlock()
	if err != nil {
		return false, err
	}
	d.publish(events)
	return true, nil
}
