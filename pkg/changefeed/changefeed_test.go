package changefeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/typestore/pkg/model"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "typestore.books", Subject("typestore", "books"))
	assert.Equal(t, "typestore.v1_books", Subject("typestore", "v1.books"))
}

func TestEventRoundTrip(t *testing.T) {
	ev := NewEvent(EventUpdate, model.Ref{Collection: "orders/o1/updates", ID: "u1"}, 3)
	assert.NotZero(t, ev.Timestamp)

	data, err := Marshal(ev)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
	assert.Equal(t, "updates", got.Ref().Name())

	_, err = Unmarshal([]byte("{"))
	assert.Error(t, err)
}
