package client

import "github.com/syntrixbase/typestore/pkg/model"

// ReadOption configures a read.
type ReadOption func(*readOptions)

type readOptions struct {
	expect model.Environment
	dates  model.DateStrategy
}

// As asserts the read runs in env. A mismatch fails with a
// *model.EnvironmentError before the driver is called.
func As(env model.Environment) ReadOption {
	return func(o *readOptions) {
		o.expect = env
	}
}

// WithDates records s in the documents' Props. It does not change data: the
// memory, mongo and remote drivers commit writes before reads can see them,
// so documents never hold pending server dates to resolve.
func WithDates(s model.DateStrategy) ReadOption {
	return func(o *readOptions) {
		o.dates = s
	}
}

func (db *DB) readOptions(opts []ReadOption) readOptions {
	ro := readOptions{dates: model.DateNone}
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

// prepare resolves opts and checks the environment assertion.
func (db *DB) prepare(opts []ReadOption) (readOptions, error) {
	ro := db.readOptions(opts)
	if ro.expect != "" && ro.expect != db.env {
		return ro, &model.EnvironmentError{Expected: ro.expect, Actual: db.env}
	}
	return ro, nil
}
