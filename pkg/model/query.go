package model

import "strings"

// DocIDField is the pseudo-field selecting the document id.
const DocIDField = "__id__"

// FieldPath is an ordered sequence of nested keys.
type FieldPath []string

// IsDocID reports whether the path selects the document id.
func (p FieldPath) IsDocID() bool {
	return len(p) == 1 && p[0] == DocIDField
}

func (p FieldPath) String() string {
	return strings.Join(p, ".")
}

// NodeType tags a QueryNode.
type NodeType string

const (
	NodeWhere NodeType = "where"
	NodeOrder NodeType = "order"
	NodeLimit NodeType = "limit"
	NodeOr    NodeType = "or"
)

// QueryNode is one normalized query clause.
//
//	where: Field, Filter, Value
//	order: Field, Direction, Cursors
//	limit: Number
//	or:    Queries (where nodes only)
type QueryNode struct {
	Type      NodeType    `json:"type"`
	Field     FieldPath   `json:"field,omitempty"`
	Filter    FilterOp    `json:"filter,omitempty"`
	Value     interface{} `json:"value,omitempty"`
	Direction Direction   `json:"method,omitempty"`
	Cursors   []Cursor    `json:"cursors,omitempty"`
	Number    int         `json:"number,omitempty"`
	Queries   []QueryNode `json:"queries,omitempty"`
}

// Where builds a where node.
func Where(field FieldPath, op FilterOp, value interface{}) QueryNode {
	return QueryNode{Type: NodeWhere, Field: field, Filter: op, Value: value}
}

// Order builds an order node.
func Order(field FieldPath, dir Direction, cursors ...Cursor) QueryNode {
	return QueryNode{Type: NodeOrder, Field: field, Direction: dir, Cursors: cursors}
}

// Limit builds a limit node.
func Limit(n int) QueryNode {
	return QueryNode{Type: NodeLimit, Number: n}
}

// Or builds a disjunction of where nodes.
func Or(nodes ...QueryNode) QueryNode {
	return QueryNode{Type: NodeOr, Queries: nodes}
}

// CursorPosition is a pagination boundary kind.
type CursorPosition string

const (
	StartAt    CursorPosition = "startAt"
	StartAfter CursorPosition = "startAfter"
	EndBefore  CursorPosition = "endBefore"
	EndAt      CursorPosition = "endAt"
)

// IsStart reports whether the position opens the range.
func (p CursorPosition) IsStart() bool {
	return p == StartAt || p == StartAfter
}

// IsEnd reports whether the position closes the range.
func (p CursorPosition) IsEnd() bool {
	return p == EndBefore || p == EndAt
}

// Inclusive reports whether the boundary value itself is part of the range.
func (p CursorPosition) Inclusive() bool {
	return p == StartAt || p == EndAt
}

// Cursor anchors an ordered query.
type Cursor struct {
	Position CursorPosition `json:"position"`
	Value    interface{}    `json:"value"`
}

// ValidateCursors checks the pairing rules of one order clause: at most one
// start and one end cursor, and a start never after an end.
func ValidateCursors(cursors []Cursor) error {
	if len(cursors) > 2 {
		return NewQueryError(ErrInvalidCursor, "at most two cursors per order, got %d", len(cursors))
	}
	for _, c := range cursors {
		if !c.Position.IsStart() && !c.Position.IsEnd() {
			return NewQueryError(ErrInvalidCursor, "unknown cursor position %q", c.Position)
		}
	}
	if len(cursors) == 2 {
		first, second := cursors[0].Position, cursors[1].Position
		if first.IsEnd() && second.IsStart() {
			return NewQueryError(ErrInvalidCursor, "%s cursor must come before %s", second, first)
		}
		if first.IsStart() == second.IsStart() {
			return NewQueryError(ErrInvalidCursor, "two %s cursors in one order", kindOf(first))
		}
	}
	return nil
}

func kindOf(p CursorPosition) string {
	if p.IsStart() {
		return "start"
	}
	return "end"
}

// ValidateNodes checks a normalized node list.
func ValidateNodes(nodes []QueryNode) error {
	for _, n := range nodes {
		switch n.Type {
		case NodeWhere:
			if len(n.Field) == 0 {
				return NewQueryError(ErrInvalidQuery, "where without field")
			}
			if !n.Filter.IsValid() {
				return NewQueryError(ErrInvalidQuery, "unknown filter %q", n.Filter)
			}
		case NodeOrder:
			if len(n.Field) == 0 {
				return NewQueryError(ErrInvalidQuery, "order without field")
			}
			if !n.Direction.IsValid() {
				return NewQueryError(ErrInvalidQuery, "unknown direction %q", n.Direction)
			}
			if err := ValidateCursors(n.Cursors); err != nil {
				return err
			}
		case NodeLimit:
			if n.Number < 0 {
				return NewQueryError(ErrInvalidQuery, "negative limit %d", n.Number)
			}
		case NodeOr:
			for _, q := range n.Queries {
				if q.Type != NodeWhere {
					return NewQueryError(ErrInvalidQuery, "or accepts only where queries, got %s", q.Type)
				}
			}
			if err := ValidateNodes(n.Queries); err != nil {
				return err
			}
		default:
			return NewQueryError(ErrInvalidQuery, "unknown node type %q", n.Type)
		}
	}
	return nil
}
