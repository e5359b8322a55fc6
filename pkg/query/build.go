package query

import (
	"github.com/syntrixbase/typestore/pkg/model"
	"github.com/syntrixbase/typestore/pkg/schema"
)

// Func is the callback form of a query. Returning nil means the query is not
// ready and no request is made; nil entries are skipped.
type Func func(q *Helpers) []*Node

// Normalize turns nodes into validated clauses. Repeated nodes are kept once.
func Normalize(nodes []*Node) ([]model.QueryNode, error) {
	out := make([]model.QueryNode, 0, len(nodes))
	seen := make(map[*Node]struct{}, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if n.err != nil {
			return nil, n.err
		}
		out = append(out, n.node)
	}
	if err := model.ValidateNodes(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Request runs fn against shape and returns the query request for scope.
// It returns nil, nil when fn returns nil.
func Request(scope model.Scope, shape *schema.Shape, fn Func) (*model.Request, error) {
	nodes := fn(NewHelpers(shape))
	if nodes == nil {
		return nil, nil
	}
	queries, err := Normalize(nodes)
	if err != nil {
		return nil, err
	}
	return &model.Request{Kind: model.KindQuery, Scope: scope, Queries: queries}, nil
}

// Builder is the imperative form: every node produced through its helpers is
// recorded in call order, except nodes consumed by Or.
type Builder struct {
	*Helpers
	scope model.Scope
	rec   *recorder
}

// NewBuilder returns a builder for scope.
func NewBuilder(scope model.Scope, shape *schema.Shape) *Builder {
	h := NewHelpers(shape)
	h.sink = &recorder{}
	return &Builder{Helpers: h, scope: scope, rec: h.sink}
}

// Scope returns the scope the builder targets.
func (b *Builder) Scope() model.Scope { return b.scope }

// Build returns the query request from the recorded nodes.
func (b *Builder) Build() (model.Request, error) {
	queries, err := Normalize(b.rec.nodes)
	if err != nil {
		return model.Request{}, err
	}
	return model.Request{Kind: model.KindQuery, Scope: b.scope, Queries: queries}, nil
}

type recorder struct {
	nodes []*Node
}

func (r *recorder) add(n *Node) {
	r.nodes = append(r.nodes, n)
}

func (r *recorder) remove(n *Node) {
	for i, m := range r.nodes {
		if m == n {
			r.nodes = append(r.nodes[:i], r.nodes[i+1:]...)
			return
		}
	}
}
