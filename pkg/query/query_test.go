package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/typestore/pkg/model"
	"github.com/syntrixbase/typestore/pkg/schema"
)

type contact struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type user struct {
	Name     string            `json:"name"`
	Age      int               `json:"age"`
	Tags     []string          `json:"tags"`
	Contacts contact           `json:"contacts"`
	Scores   map[string]int    `json:"scores"`
	History  []contact         `json:"history"`
	Extra    map[string]string `json:"extra"`
}

var users = model.CollectionScope("users")

func build(t *testing.T, fn Func) *model.Request {
	t.Helper()
	req, err := Request(users, schema.ShapeOf(user{}), fn)
	require.NoError(t, err)
	return req
}

func buildErr(t *testing.T, fn Func) error {
	t.Helper()
	req, err := Request(users, schema.ShapeOf(user{}), fn)
	require.Error(t, err)
	assert.Nil(t, req)
	assert.True(t, model.IsQueryError(err), "want query construction error, got %v", err)
	return err
}

func TestRequest_Where(t *testing.T) {
	req := build(t, func(q *Helpers) []*Node {
		return []*Node{
			q.Field("name").Eq("Sasha"),
			q.Field("age").Gte(18),
			q.Field("contacts", "email").Not("x@example.com"),
			q.Field("tags").Contains("admin"),
			q.Field("tags").ContainsAny("a", "b"),
			q.Field("scores", "math").Gt(3),
			q.Field("history", 0, "phone").Lt("5"),
			q.Field("name").In([]string{"a", "b"}),
			q.Field("age").NotIn(1, 2),
			q.DocID().Eq("u1"),
		}
	})
	require.NotNil(t, req)
	assert.Equal(t, model.KindQuery, req.Kind)
	assert.Equal(t, []model.QueryNode{
		model.Where(model.FieldPath{"name"}, model.OpEq, "Sasha"),
		model.Where(model.FieldPath{"age"}, model.OpGte, 18),
		model.Where(model.FieldPath{"contacts", "email"}, model.OpNe, "x@example.com"),
		model.Where(model.FieldPath{"tags"}, model.OpContains, "admin"),
		model.Where(model.FieldPath{"tags"}, model.OpContainsAny, []interface{}{"a", "b"}),
		model.Where(model.FieldPath{"scores", "math"}, model.OpGt, 3),
		model.Where(model.FieldPath{"history", "0", "phone"}, model.OpLt, "5"),
		model.Where(model.FieldPath{"name"}, model.OpIn, []interface{}{"a", "b"}),
		model.Where(model.FieldPath{"age"}, model.OpNotIn, []interface{}{1, 2}),
		model.Where(model.FieldPath{model.DocIDField}, model.OpEq, "u1"),
	}, req.Queries)
}

func TestRequest_NotReady(t *testing.T) {
	req, err := Request(users, nil, func(q *Helpers) []*Node { return nil })
	assert.NoError(t, err)
	assert.Nil(t, req)

	req, err = Request(users, nil, func(q *Helpers) []*Node { return []*Node{} })
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Empty(t, req.Queries)
}

func TestRequest_SkipsNilAndDuplicates(t *testing.T) {
	admin := false
	req := build(t, func(q *Helpers) []*Node {
		var role *Node
		if admin {
			role = q.Field("tags").Contains("admin")
		}
		limit := q.Limit(10)
		return []*Node{nil, q.Field("name").Eq("x"), role, limit, limit}
	})
	assert.Equal(t, []model.QueryNode{
		model.Where(model.FieldPath{"name"}, model.OpEq, "x"),
		model.Limit(10),
	}, req.Queries)
}

func TestRequest_FieldErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   Func
	}{
		{"unknown field", func(q *Helpers) []*Node { return []*Node{q.Field("nope").Eq(1)} }},
		{"below scalar", func(q *Helpers) []*Node { return []*Node{q.Field("name", "first").Eq(1)} }},
		{"compare array", func(q *Helpers) []*Node { return []*Node{q.Field("tags").Eq("a")} }},
		{"contains on scalar", func(q *Helpers) []*Node { return []*Node{q.Field("name").Contains("a")} }},
		{"contains on id", func(q *Helpers) []*Node { return []*Node{q.DocID().Contains("a")} }},
		{"order array", func(q *Helpers) []*Node { return []*Node{q.Field("tags").OrderBy()} }},
		{"order object", func(q *Helpers) []*Node { return []*Node{q.Field("contacts").OrderBy()} }},
		{"bad segment", func(q *Helpers) []*Node { return []*Node{q.Field(1.5).Eq(1)} }},
		{"negative limit", func(q *Helpers) []*Node { return []*Node{q.Limit(-1)} }},
		{"bad direction", func(q *Helpers) []*Node { return []*Node{q.Field("age").Order("sideways")} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buildErr(t, tt.fn)
		})
	}
}

func TestRequest_Cursors(t *testing.T) {
	t.Run("start then end", func(t *testing.T) {
		req := build(t, func(q *Helpers) []*Node {
			return []*Node{q.Field("age").Order(model.Desc, q.StartAfter(10), q.EndAt(1))}
		})
		assert.Equal(t, []model.QueryNode{
			model.Order(model.FieldPath{"age"}, model.Desc,
				model.Cursor{Position: model.StartAfter, Value: 10},
				model.Cursor{Position: model.EndAt, Value: 1}),
		}, req.Queries)
	})

	t.Run("end then start", func(t *testing.T) {
		err := buildErr(t, func(q *Helpers) []*Node {
			return []*Node{q.Field("age").OrderBy(q.EndAt(1), q.StartAt(10))}
		})
		assert.ErrorIs(t, err, model.ErrInvalidCursor)
	})

	t.Run("two starts", func(t *testing.T) {
		err := buildErr(t, func(q *Helpers) []*Node {
			return []*Node{q.Field("age").OrderBy(q.StartAt(1), q.StartAfter(2))}
		})
		assert.ErrorIs(t, err, model.ErrInvalidCursor)
	})

	t.Run("three cursors", func(t *testing.T) {
		err := buildErr(t, func(q *Helpers) []*Node {
			return []*Node{q.Field("age").OrderBy(q.StartAt(1), q.EndAt(2), q.EndAt(3))}
		})
		assert.ErrorIs(t, err, model.ErrInvalidCursor)
	})

	t.Run("nil cursors degrade to plain order", func(t *testing.T) {
		req := build(t, func(q *Helpers) []*Node {
			return []*Node{q.Field("age").OrderBy(nil, nil)}
		})
		assert.Equal(t, []model.QueryNode{model.Order(model.FieldPath{"age"}, model.Asc)}, req.Queries)
		assert.Nil(t, req.Queries[0].Cursors)
	})

	t.Run("document cursor", func(t *testing.T) {
		doc := &model.Document{
			Ref:  model.Ref{Collection: "users", ID: "u7"},
			Data: map[string]interface{}{"age": 42.0, "contacts": map[string]interface{}{"email": "a@b"}},
		}
		req := build(t, func(q *Helpers) []*Node {
			return []*Node{
				q.Field("age").OrderBy(q.StartAfter(doc)),
				q.Field("contacts", "email").OrderBy(q.EndBefore(doc)),
				q.DocID().OrderBy(q.StartAt(doc)),
			}
		})
		assert.Equal(t, 42.0, req.Queries[0].Cursors[0].Value)
		assert.Equal(t, "a@b", req.Queries[1].Cursors[0].Value)
		assert.Equal(t, "u7", req.Queries[2].Cursors[0].Value)
	})

	t.Run("document cursor without field", func(t *testing.T) {
		doc := &model.Document{Ref: model.Ref{Collection: "users", ID: "u7"}, Data: map[string]interface{}{}}
		err := buildErr(t, func(q *Helpers) []*Node {
			return []*Node{q.Field("age").OrderBy(q.StartAt(doc))}
		})
		assert.ErrorIs(t, err, model.ErrInvalidCursor)
	})
}

func TestRequest_Or(t *testing.T) {
	req := build(t, func(q *Helpers) []*Node {
		return []*Node{
			q.Or(q.Field("name").Eq("a"), nil, q.Field("age").Lt(3)),
			q.Limit(1),
		}
	})
	assert.Equal(t, []model.QueryNode{
		model.Or(
			model.Where(model.FieldPath{"name"}, model.OpEq, "a"),
			model.Where(model.FieldPath{"age"}, model.OpLt, 3),
		),
		model.Limit(1),
	}, req.Queries)

	err := buildErr(t, func(q *Helpers) []*Node {
		return []*Node{q.Or(q.Field("name").Eq("a"), q.Limit(3))}
	})
	assert.ErrorIs(t, err, model.ErrInvalidQuery)

	err = buildErr(t, func(q *Helpers) []*Node {
		return []*Node{q.Or(q.Field("missing").Eq("a"))}
	})
	assert.ErrorIs(t, err, model.ErrInvalidField)
}

func TestRequest_AnyShape(t *testing.T) {
	req, err := Request(users, nil, func(q *Helpers) []*Node {
		return []*Node{q.Field("whatever", "deep").Contains(1), q.Field("x").OrderBy()}
	})
	require.NoError(t, err)
	assert.Len(t, req.Queries, 2)
}

func TestBuilder(t *testing.T) {
	b := NewBuilder(users, schema.ShapeOf(user{}))
	b.Field("age").Gte(21)
	b.Or(b.Field("name").Eq("a"), b.Field("name").Eq("b"))
	b.Field("age").OrderBy(b.StartAt(21))
	b.Limit(5)

	req, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, users, b.Scope())
	assert.Equal(t, model.KindQuery, req.Kind)
	assert.Equal(t, []model.QueryNode{
		model.Where(model.FieldPath{"age"}, model.OpGte, 21),
		model.Or(
			model.Where(model.FieldPath{"name"}, model.OpEq, "a"),
			model.Where(model.FieldPath{"name"}, model.OpEq, "b"),
		),
		model.Order(model.FieldPath{"age"}, model.Asc, model.Cursor{Position: model.StartAt, Value: 21}),
		model.Limit(5),
	}, req.Queries)

	bad := NewBuilder(users, schema.ShapeOf(user{}))
	bad.Field("age").OrderBy(bad.EndAt(1), bad.StartAt(0))
	_, err = bad.Build()
	assert.ErrorIs(t, err, model.ErrInvalidCursor)
}
