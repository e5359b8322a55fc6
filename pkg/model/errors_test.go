package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCanceled(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context.Canceled", context.Canceled, true},
		{"context.DeadlineExceeded", context.DeadlineExceeded, true},
		{"ErrCanceled", ErrCanceled, true},
		{"wrapped context.Canceled", fmt.Errorf("wrapped: %w", context.Canceled), true},
		{"string contains context canceled", errors.New("operation failed: context canceled"), true},
		{"unrelated error", errors.New("some other error"), false},
		{"ErrNotFound", ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsCanceled(tt.err))
		})
	}
}

func TestWrapDriverError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"canceled", context.Canceled, ErrCanceled},
		{"deadline", context.DeadlineExceeded, ErrCanceled},
		{"not found", ErrNotFound, ErrNotFound},
		{"conflict", fmt.Errorf("commit: %w", ErrTransactionConflict), ErrTransactionConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapDriverError("fetch", tt.err)
			require.Error(t, err)
			assert.True(t, IsDriverError(err))
			assert.ErrorIs(t, err, tt.target)
		})
	}

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, WrapDriverError("fetch", nil))
	})

	t.Run("no double wrap", func(t *testing.T) {
		once := WrapDriverError("fetch", ErrNotFound)
		twice := WrapDriverError("subscribe", once)
		assert.Same(t, once, twice)
		assert.Equal(t, "driver fetch: document not found", twice.Error())
	})
}

func TestTypedErrors(t *testing.T) {
	usage := &UsageError{Err: ErrAlreadySubscribed}
	assert.True(t, IsUsageError(usage))
	assert.ErrorIs(t, usage, ErrAlreadySubscribed)
	assert.Equal(t, "usage error: can't await after subscribing", usage.Error())

	env := &EnvironmentError{Expected: EnvClient, Actual: EnvServer}
	assert.ErrorIs(t, env, ErrWrongEnvironment)
	assert.Contains(t, env.Error(), "expected client environment")

	qe := NewQueryError(ErrInvalidCursor, "bad %s", "pair")
	assert.True(t, IsQueryError(qe))
	assert.ErrorIs(t, qe, ErrInvalidCursor)
	assert.Equal(t, "invalid cursor: bad pair", qe.Error())

	assert.False(t, IsQueryError(ErrNotFound))
	assert.False(t, IsUsageError(ErrNotFound))
}
