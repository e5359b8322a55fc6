package memory

import (
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

// execute filters, orders, applies cursors and limits docs, which come in
// path order.
//
// Documents without a value at an order field are left out. Ties are broken
// by document path. Each order clause's cursors bound its own field, and the
// last limit wins.
func execute(prg cel.Program, docs []*driver.RawDoc, nodes []model.QueryNode) []*driver.RawDoc {
	var orders []model.QueryNode
	limit := -1
	for _, n := range nodes {
		switch n.Type {
		case model.NodeOrder:
			orders = append(orders, n)
		case model.NodeLimit:
			limit = n.Number
		}
	}

	out := make([]*driver.RawDoc, 0, len(docs))
	for _, doc := range docs {
		if !evaluate(prg, doc.ID, doc.Data) {
			continue
		}
		if !inRange(doc, orders) {
			continue
		}
		out = append(out, doc)
	}

	if len(orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range orders {
				a, _ := fieldValue(out[i], o.Field)
				b, _ := fieldValue(out[j], o.Field)
				c := compareValues(a, b)
				if o.Direction == model.Desc {
					c = -c
				}
				if c != 0 {
					return c < 0
				}
			}
			return out[i].Ref().String() < out[j].Ref().String()
		})
	}

	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// fieldValue returns the normalized value of doc at path; the id for the
// id pseudo-field.
func fieldValue(doc *driver.RawDoc, path model.FieldPath) (interface{}, bool) {
	if path.IsDocID() {
		return doc.ID, true
	}
	v, ok := model.Lookup(doc.Data, path)
	if !ok {
		return nil, false
	}
	return normalize(v), true
}

func inRange(doc *driver.RawDoc, orders []model.QueryNode) bool {
	for _, o := range orders {
		v, ok := fieldValue(doc, o.Field)
		if !ok {
			return false
		}
		for _, c := range o.Cursors {
			cmp := compareValues(v, normalize(c.Value))
			if o.Direction == model.Desc {
				cmp = -cmp
			}
			switch c.Position {
			case model.StartAt:
				if cmp < 0 {
					return false
				}
			case model.StartAfter:
				if cmp <= 0 {
					return false
				}
			case model.EndAt:
				if cmp > 0 {
					return false
				}
			case model.EndBefore:
				if cmp >= 0 {
					return false
				}
			}
		}
	}
	return true
}
