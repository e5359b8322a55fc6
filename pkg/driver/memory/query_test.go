package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/typestore/pkg/model"
)

// Each order clause's cursors bound that clause's field on its own, not the
// tuple of all order fields.
func TestFetchQuery_CursorsPerOrderField(t *testing.T) {
	d := newDriver(t)
	ctx := context.Background()
	require.NoError(t, d.Write(ctx,
		set("points", "x1", map[string]interface{}{"a": 1, "b": 9}),
		set("points", "x2", map[string]interface{}{"a": 2, "b": 1}),
		set("points", "x3", map[string]interface{}{"a": 2, "b": 6}),
		set("points", "x4", map[string]interface{}{"a": 3, "b": 5}),
		set("points", "x5", map[string]interface{}{"a": 4}),
	))
	a, b := model.FieldPath{"a"}, model.FieldPath{"b"}

	tests := []struct {
		name  string
		nodes []model.QueryNode
		want  []string
	}{
		{
			"both fields bounded",
			[]model.QueryNode{
				model.Order(a, model.Asc, model.Cursor{Position: model.StartAfter, Value: 1}),
				model.Order(b, model.Asc, model.Cursor{Position: model.StartAfter, Value: 5}),
			},
			[]string{"x3"},
		},
		{
			"second field unbounded",
			[]model.QueryNode{
				model.Order(a, model.Asc, model.Cursor{Position: model.EndAt, Value: 2}),
				model.Order(b, model.Desc),
			},
			[]string{"x1", "x3", "x2"},
		},
		{
			"missing order field excluded",
			[]model.QueryNode{
				model.Order(a, model.Desc, model.Cursor{Position: model.StartAt, Value: 4}),
				model.Order(b, model.Asc),
			},
			[]string{"x4", "x2", "x3", "x1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := d.FetchQuery(ctx, model.CollectionScope("points"), tt.nodes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(docs))
		})
	}
}
