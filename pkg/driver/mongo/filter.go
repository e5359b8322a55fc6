package mongo

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/syntrixbase/typestore/pkg/model"
)

const notDeleted = "deleted"

// plan is a query translated to a mongo find.
type plan struct {
	filter bson.D
	sort   bson.D
	limit  int64 // -1 when unlimited
}

// scopeFilter selects the live documents of a collection path or group.
func scopeFilter(scope model.Scope) bson.D {
	key := "collection"
	if scope.IsGroup() {
		key = "name"
	}
	return bson.D{
		{Key: key, Value: scope.Path()},
		{Key: notDeleted, Value: bson.M{"$ne": true}},
	}
}

// buildPlan translates query nodes. Documents without a value at an order
// field never match, results are tie-broken by full path and the last limit
// wins.
func buildPlan(scope model.Scope, nodes []model.QueryNode) (*plan, error) {
	if err := model.ValidateNodes(nodes); err != nil {
		return nil, err
	}
	p := &plan{filter: scopeFilter(scope), limit: -1}
	var conds bson.A

	for _, n := range nodes {
		switch n.Type {
		case model.NodeWhere:
			c, err := whereCond(n)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		case model.NodeOr:
			if len(n.Queries) == 0 {
				conds = append(conds, bson.M{"_id": bson.M{"$in": bson.A{}}})
				continue
			}
			alts := make(bson.A, 0, len(n.Queries))
			for _, child := range n.Queries {
				c, err := whereCond(child)
				if err != nil {
					return nil, err
				}
				alts = append(alts, c)
			}
			conds = append(conds, bson.M{"$or": alts})
		case model.NodeOrder:
			field := mapField(n.Field)
			dir := 1
			if n.Direction == model.Desc {
				dir = -1
			}
			p.sort = append(p.sort, bson.E{Key: field, Value: dir})
			conds = append(conds, bson.M{field: bson.M{"$exists": true}})
			for _, c := range n.Cursors {
				conds = append(conds, bson.M{field: bson.M{cursorOp(c.Position, n.Direction): c.Value}})
			}
		case model.NodeLimit:
			p.limit = int64(n.Number)
		}
	}

	if len(conds) > 0 {
		p.filter = append(p.filter, bson.E{Key: "$and", Value: conds})
	}
	p.sort = append(p.sort, bson.E{Key: "fullpath", Value: 1})
	return p, nil
}

func mapField(path model.FieldPath) string {
	if path.IsDocID() {
		return "doc_id"
	}
	return "data." + strings.Join(path, ".")
}

func whereCond(n model.QueryNode) (bson.M, error) {
	if n.Type != model.NodeWhere {
		return nil, model.NewQueryError(model.ErrInvalidQuery, "or accepts only where queries, got %s", n.Type)
	}
	field := mapField(n.Field)
	switch n.Filter {
	case model.OpEq:
		return bson.M{field: bson.M{"$eq": n.Value}}, nil
	case model.OpNe:
		return bson.M{field: bson.M{"$ne": n.Value, "$exists": true}}, nil
	case model.OpGt:
		return bson.M{field: bson.M{"$gt": n.Value}}, nil
	case model.OpGte:
		return bson.M{field: bson.M{"$gte": n.Value}}, nil
	case model.OpLt:
		return bson.M{field: bson.M{"$lt": n.Value}}, nil
	case model.OpLte:
		return bson.M{field: bson.M{"$lte": n.Value}}, nil
	case model.OpIn:
		return bson.M{field: bson.M{"$in": n.Value}}, nil
	case model.OpNotIn:
		return bson.M{field: bson.M{"$nin": n.Value, "$exists": true}}, nil
	case model.OpContains:
		return bson.M{field: bson.M{"$elemMatch": bson.M{"$eq": n.Value}}}, nil
	case model.OpContainsAny:
		return bson.M{field: bson.M{"$elemMatch": bson.M{"$in": n.Value}}}, nil
	}
	return nil, model.NewQueryError(model.ErrInvalidQuery, "unsupported filter %q", n.Filter)
}

// cursorOp returns the comparison keeping documents on the right side of a
// cursor, flipped for descending orders.
func cursorOp(pos model.CursorPosition, dir model.Direction) string {
	asc := dir != model.Desc
	switch pos {
	case model.StartAt:
		return pick(asc, "$gte", "$lte")
	case model.StartAfter:
		return pick(asc, "$gt", "$lt")
	case model.EndAt:
		return pick(asc, "$lte", "$gte")
	case model.EndBefore:
		return pick(asc, "$lt", "$gt")
	}
	panic(fmt.Sprintf("unknown cursor position %q", pos))
}

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}
