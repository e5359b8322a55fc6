// Package query turns helper callbacks and imperative builders into the
// normalized node lists carried by query requests.
package query

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/syntrixbase/typestore/pkg/model"
	"github.com/syntrixbase/typestore/pkg/schema"
)

// Node is one query clause under construction. A node built from invalid
// input carries the error; it is reported when the query is built.
type Node struct {
	node model.QueryNode
	err  error
}

// QueryNode returns the normalized clause.
func (n *Node) QueryNode() model.QueryNode { return n.node }

// Err returns the construction error recorded on the node, if any.
func (n *Node) Err() error { return n.err }

// Cursor is a pagination boundary passed to Order. Its value is resolved
// against the order field when the order node is built.
type Cursor struct {
	position model.CursorPosition
	value    interface{}
}

// Helpers builds nodes against one document shape.
type Helpers struct {
	shape *schema.Shape
	sink  *recorder
}

// NewHelpers returns helpers for the given shape. A nil shape accepts any path.
func NewHelpers(shape *schema.Shape) *Helpers {
	if shape == nil {
		shape = schema.Any
	}
	return &Helpers{shape: shape}
}

func (q *Helpers) emit(n *Node) *Node {
	if q.sink != nil {
		q.sink.add(n)
	}
	return n
}

// Field resolves a nested field. Segments are strings or integers (array
// indices or numeric map keys).
func (q *Helpers) Field(path ...interface{}) *Field {
	f := &Field{q: q}
	segments := make(model.FieldPath, 0, len(path))
	for _, seg := range path {
		s, err := segment(seg)
		if err != nil {
			f.err = model.NewQueryError(model.ErrInvalidField, "%v", err)
			return f
		}
		segments = append(segments, s)
	}
	f.path = segments
	f.shape, f.err = q.shape.Resolve(segments)
	return f
}

// DocID selects the document id for filtering and ordering.
func (q *Helpers) DocID() *Field {
	return &Field{q: q, path: model.FieldPath{model.DocIDField}, id: true}
}

// Limit caps the number of returned documents.
func (q *Helpers) Limit(n int) *Node {
	node := &Node{node: model.Limit(n)}
	if n < 0 {
		node.err = model.NewQueryError(model.ErrInvalidQuery, "negative limit %d", n)
	}
	return q.emit(node)
}

// StartAt starts the range at value, inclusive.
func (q *Helpers) StartAt(value interface{}) *Cursor {
	return &Cursor{position: model.StartAt, value: value}
}

// StartAfter starts the range after value.
func (q *Helpers) StartAfter(value interface{}) *Cursor {
	return &Cursor{position: model.StartAfter, value: value}
}

// EndBefore ends the range before value.
func (q *Helpers) EndBefore(value interface{}) *Cursor {
	return &Cursor{position: model.EndBefore, value: value}
}

// EndAt ends the range at value, inclusive.
func (q *Helpers) EndAt(value interface{}) *Cursor {
	return &Cursor{position: model.EndAt, value: value}
}

// Or combines where nodes into a disjunction. nil nodes are skipped.
func (q *Helpers) Or(nodes ...*Node) *Node {
	out := &Node{}
	children := make([]model.QueryNode, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if q.sink != nil {
			q.sink.remove(n)
		}
		if n.err != nil && out.err == nil {
			out.err = n.err
		}
		if n.node.Type != model.NodeWhere && out.err == nil {
			out.err = model.NewQueryError(model.ErrInvalidQuery, "or accepts only where queries, got %s", n.node.Type)
		}
		children = append(children, n.node)
	}
	out.node = model.Or(children...)
	return q.emit(out)
}

// Field is a resolved field path.
type Field struct {
	q     *Helpers
	path  model.FieldPath
	shape *schema.Shape
	id    bool
	err   error
}

// Path returns the resolved segments.
func (f *Field) Path() model.FieldPath { return f.path }

func (f *Field) Lt(value interface{}) *Node  { return f.compare(model.OpLt, value) }
func (f *Field) Lte(value interface{}) *Node { return f.compare(model.OpLte, value) }
func (f *Field) Eq(value interface{}) *Node  { return f.compare(model.OpEq, value) }
func (f *Field) Not(value interface{}) *Node { return f.compare(model.OpNe, value) }
func (f *Field) Gt(value interface{}) *Node  { return f.compare(model.OpGt, value) }
func (f *Field) Gte(value interface{}) *Node { return f.compare(model.OpGte, value) }

// In matches documents whose field equals one of values.
func (f *Field) In(values ...interface{}) *Node {
	return f.compare(model.OpIn, flatten(values))
}

// NotIn matches documents whose field equals none of values.
func (f *Field) NotIn(values ...interface{}) *Node {
	return f.compare(model.OpNotIn, flatten(values))
}

// Contains matches array fields holding value.
func (f *Field) Contains(value interface{}) *Node {
	return f.arrayOp(model.OpContains, value)
}

// ContainsAny matches array fields holding at least one of values.
func (f *Field) ContainsAny(values ...interface{}) *Node {
	return f.arrayOp(model.OpContainsAny, flatten(values))
}

// Order sorts by the field. nil cursors are skipped; with none left the node
// is a plain order clause.
func (f *Field) Order(dir model.Direction, cursors ...*Cursor) *Node {
	n := &Node{}
	if f.err != nil {
		n.err = f.err
		return f.q.emit(n)
	}
	if !dir.IsValid() {
		n.err = model.NewQueryError(model.ErrInvalidQuery, "unknown direction %q", dir)
		return f.q.emit(n)
	}
	if !f.id && !f.orderable() {
		n.err = model.NewQueryError(model.ErrInvalidField, "%s is %s and can't be ordered", f.path, f.shape.Kind())
		return f.q.emit(n)
	}
	resolved := make([]model.Cursor, 0, len(cursors))
	for _, c := range cursors {
		if c == nil {
			continue
		}
		v, err := f.cursorValue(c.value)
		if err != nil {
			n.err = err
			return f.q.emit(n)
		}
		resolved = append(resolved, model.Cursor{Position: c.position, Value: v})
	}
	if err := model.ValidateCursors(resolved); err != nil {
		n.err = err
		return f.q.emit(n)
	}
	if len(resolved) == 0 {
		resolved = nil
	}
	n.node = model.Order(f.path, dir, resolved...)
	return f.q.emit(n)
}

// OrderBy sorts ascending.
func (f *Field) OrderBy(cursors ...*Cursor) *Node {
	return f.Order(model.Asc, cursors...)
}

func (f *Field) compare(op model.FilterOp, value interface{}) *Node {
	n := &Node{node: model.Where(f.path, op, value)}
	switch {
	case f.err != nil:
		n.err = f.err
	case !f.id && f.shape.IsArray():
		n.err = model.NewQueryError(model.ErrInvalidField, "%s is an array, use Contains or ContainsAny", f.path)
	}
	return f.q.emit(n)
}

func (f *Field) arrayOp(op model.FilterOp, value interface{}) *Node {
	n := &Node{node: model.Where(f.path, op, value)}
	switch {
	case f.err != nil:
		n.err = f.err
	case f.id:
		n.err = model.NewQueryError(model.ErrInvalidField, "document id is not an array")
	case f.shape.Kind() != schema.KindArray && f.shape.Kind() != schema.KindAny:
		n.err = model.NewQueryError(model.ErrInvalidField, "%s is %s, not an array", f.path, f.shape.Kind())
	}
	return f.q.emit(n)
}

func (f *Field) orderable() bool {
	k := f.shape.Kind()
	return k == schema.KindScalar || k == schema.KindAny
}

// cursorValue replaces a document by its value at the order field.
func (f *Field) cursorValue(v interface{}) (interface{}, error) {
	doc, ok := v.(*model.Document)
	if !ok {
		return v, nil
	}
	if doc == nil {
		return nil, model.NewQueryError(model.ErrInvalidCursor, "nil document cursor")
	}
	if f.id {
		return doc.ID(), nil
	}
	val, found := doc.Get(f.path...)
	if !found {
		return nil, model.NewQueryError(model.ErrInvalidCursor, "%s has no value at %s", doc.Ref, f.path)
	}
	return val, nil
}

func segment(seg interface{}) (string, error) {
	switch s := seg.(type) {
	case string:
		if s == "" {
			return "", fmt.Errorf("empty path segment")
		}
		return s, nil
	case int:
		return strconv.Itoa(s), nil
	}
	rv := reflect.ValueOf(seg)
	switch rv.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	}
	return "", fmt.Errorf("path segment %v is %T, want string or integer", seg, seg)
}

// flatten accepts In([]string{...}) as well as In("a", "b").
func flatten(values []interface{}) []interface{} {
	if len(values) != 1 {
		return values
	}
	rv := reflect.ValueOf(values[0])
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return values
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
