package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/typestore/pkg/model"
)

type author struct {
	Name string `json:"name"`
}

type base struct {
	CreatedAt time.Time `json:"createdAt"`
}

type book struct {
	base
	Title    string                 `json:"title"`
	Author   author                 `json:"author"`
	Tags     []string               `json:"tags"`
	Ratings  map[string]int         `json:"ratings"`
	Extra    interface{}            `json:"extra"`
	Secret   string                 `json:"-"`
	Untagged int
	Meta     map[string]interface{} `json:"meta,omitempty"`
	Cover    *author                `json:"cover"`
}

type update struct {
	Text string `json:"text"`
}

func TestShape_Resolve(t *testing.T) {
	shape := ShapeOf(book{})
	require.Equal(t, KindObject, shape.Kind())

	tests := []struct {
		name string
		path []string
		kind Kind
		err  bool
	}{
		{"scalar", []string{"title"}, KindScalar, false},
		{"nested", []string{"author", "name"}, KindScalar, false},
		{"pointer struct", []string{"cover", "name"}, KindScalar, false},
		{"array", []string{"tags"}, KindArray, false},
		{"array element", []string{"tags", "0"}, KindScalar, false},
		{"array bad index", []string{"tags", "first"}, 0, true},
		{"map any key", []string{"ratings", "whatever"}, KindScalar, false},
		{"interface any path", []string{"extra", "a", "b", "c"}, KindAny, false},
		{"embedded", []string{"createdAt"}, KindScalar, false},
		{"untagged", []string{"Untagged"}, KindScalar, false},
		{"omitempty tag", []string{"meta", "k", "deep"}, KindAny, false},
		{"skipped", []string{"Secret"}, 0, true},
		{"unknown", []string{"nope"}, 0, true},
		{"below scalar", []string{"title", "x"}, 0, true},
		{"empty", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := shape.Resolve(tt.path)
			if tt.err {
				assert.ErrorIs(t, err, model.ErrInvalidField)
				assert.True(t, model.IsQueryError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind())
		})
	}
}

func TestShapeOf_Nil(t *testing.T) {
	s := ShapeOf(nil)
	assert.Same(t, Any, s)
	got, err := s.Resolve([]string{"anything", "goes"})
	require.NoError(t, err)
	assert.Equal(t, KindAny, got.Kind())
	assert.Nil(t, s.Fields())
}

func TestSchema(t *testing.T) {
	s, err := New(
		Collection("books", book{}),
		Collection("users", nil).Named("people"),
		Collection("orders", nil, Collection("updates", update{})),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"books", "orders", "users"}, s.Keys())

	users, err := s.Collection("users")
	require.NoError(t, err)
	assert.Equal(t, "people", users.Name())
	assert.Equal(t, "users", users.Key())

	orders, err := s.Collection("orders")
	require.NoError(t, err)
	updates, err := orders.Sub("updates")
	require.NoError(t, err)
	assert.Equal(t, KindObject, updates.Shape().Kind())

	_, err = orders.Sub("missing")
	assert.ErrorIs(t, err, model.ErrUnknownCollection)
	_, err = s.Collection("missing")
	assert.ErrorIs(t, err, model.ErrUnknownCollection)

	g, err := s.Group("updates")
	require.NoError(t, err)
	assert.Same(t, updates, g)

	resolved, err := s.Resolve("orders/o1/updates")
	require.NoError(t, err)
	assert.Same(t, updates, resolved)

	resolved, err = s.Resolve("people")
	require.NoError(t, err)
	assert.Same(t, users, resolved)

	_, err = s.Resolve("orders/o1/comments")
	assert.ErrorIs(t, err, model.ErrUnknownCollection)
	_, err = s.Resolve("orders/o1")
	assert.Error(t, err)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Collection("books", nil), Collection("books", nil))
	assert.Error(t, err)

	_, err = New(Collection("bad", nil).Named("has space"))
	assert.Error(t, err)

	_, err = New(Collection("", nil))
	assert.Error(t, err)

	assert.Panics(t, func() { MustNew(Collection("", nil)) })
}
