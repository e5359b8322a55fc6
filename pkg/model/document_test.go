package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDocumentID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"abc", true},
		{"a-b_c.d", true},
		{"", false},
		{"has space", false},
		{"slash/no", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckDocumentID(tt.id))
		})
	}
}

func TestNewRef(t *testing.T) {
	ref, err := NewRef("orders/o1/updates", "u1")
	require.NoError(t, err)
	assert.Equal(t, "orders/o1/updates/u1", ref.String())
	assert.Equal(t, "updates", ref.Name())
	require.NotNil(t, ref.Parent())
	assert.Equal(t, Ref{Collection: "orders", ID: "o1"}, *ref.Parent())
	assert.True(t, ref.Equal(Ref{Collection: "orders/o1/updates", ID: "u1"}))

	root, err := NewRef("books", "b1")
	require.NoError(t, err)
	assert.Nil(t, root.Parent())
	assert.Equal(t, "books", root.Name())

	_, err = NewRef("orders/o1", "x")
	assert.ErrorIs(t, err, ErrUnknownCollection)

	_, err = NewRef("books", "bad id")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.True(t, IsQueryError(err))
}

func TestDocument_Get(t *testing.T) {
	doc := &Document{
		Ref: Ref{Collection: "books", ID: "b1"},
		Data: map[string]interface{}{
			"title": "Sapiens",
			"meta":  map[string]interface{}{"pages": 443.0},
			"tags":  []interface{}{"history", "science"},
		},
	}

	v, ok := doc.Get("meta", "pages")
	assert.True(t, ok)
	assert.Equal(t, 443.0, v)

	v, ok = doc.Get("tags", "1")
	assert.True(t, ok)
	assert.Equal(t, "science", v)

	_, ok = doc.Get("tags", "7")
	assert.False(t, ok)
	_, ok = doc.Get("title", "x")
	assert.False(t, ok)
	_, ok = (*Document)(nil).Get("title")
	assert.False(t, ok)
	assert.Equal(t, "b1", doc.ID())
}

func TestDocument_Test(t *testing.T) {
	doc := &Document{Props: Props{Environment: EnvServer, Source: SourceDatabase, DateStrategy: DateNone}}
	assert.True(t, doc.Test(Props{}))
	assert.True(t, doc.Test(Props{Environment: EnvServer}))
	assert.True(t, doc.Test(Props{Source: SourceDatabase, DateStrategy: DateNone}))
	assert.False(t, doc.Test(Props{Environment: EnvClient}))
	assert.False(t, doc.Test(Props{Source: SourceCache}))
}

func TestAs(t *testing.T) {
	type book struct {
		Title string `json:"title"`
		Pages int    `json:"pages"`
	}
	doc := &Document{Ref: Ref{Collection: "books", ID: "b1"}, Data: map[string]interface{}{"title": "Dune", "pages": 412.0}}

	b, err := As[book](doc)
	require.NoError(t, err)
	assert.Equal(t, book{Title: "Dune", Pages: 412}, b)

	_, err = As[book](nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
