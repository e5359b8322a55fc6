package model

import (
	"encoding/json"
	"fmt"
)

// Kind is the read operation a Request describes.
type Kind string

const (
	KindGet             Kind = "get"
	KindMany            Kind = "many"
	KindAll             Kind = "all"
	KindQuery           Kind = "query"
	KindTransactionRead Kind = "transaction-read"
)

// Scope selects what a request runs against: one collection path, or every
// collection sharing a bare name.
type Scope struct {
	path  string
	group bool
}

// CollectionScope targets one collection, e.g. "orders/o1/updates".
func CollectionScope(path string) Scope {
	return Scope{path: path}
}

// GroupScope targets all collections named name at any depth.
func GroupScope(name string) Scope {
	return Scope{path: name, group: true}
}

// Path returns the collection path, or the bare name for a group.
func (s Scope) Path() string { return s.path }

// IsGroup reports whether the scope is a collection group.
func (s Scope) IsGroup() bool { return s.group }

func (s Scope) String() string {
	if s.group {
		return "group:" + s.path
	}
	return s.path
}

// Matches reports whether a document living in collection belongs to the scope.
func (s Scope) Matches(collection string) bool {
	if !s.group {
		return collection == s.path
	}
	return Ref{Collection: collection}.Name() == s.path
}

// Request is the inert description of one read.
type Request struct {
	Kind    Kind
	Scope   Scope
	ID      string
	IDs     []string
	Queries []QueryNode
}

// Path is a shortcut for Scope.Path.
func (r Request) Path() string { return r.Scope.Path() }

// Group is a shortcut for Scope.IsGroup.
func (r Request) Group() bool { return r.Scope.IsGroup() }

func (r Request) String() string {
	switch r.Kind {
	case KindGet:
		return fmt.Sprintf("%s %s/%s", r.Kind, r.Scope, r.ID)
	case KindMany:
		return fmt.Sprintf("%s %s %v", r.Kind, r.Scope, r.IDs)
	case KindQuery:
		return fmt.Sprintf("%s %s (%d nodes)", r.Kind, r.Scope, len(r.Queries))
	}
	return fmt.Sprintf("%s %s", r.Kind, r.Scope)
}

type requestJSON struct {
	Type    string      `json:"type"`
	Kind    Kind        `json:"kind"`
	Path    string      `json:"path"`
	Group   bool        `json:"group,omitempty"`
	ID      string      `json:"id,omitempty"`
	IDs     []string    `json:"ids,omitempty"`
	// Set only for query requests, where an empty list is still rendered.
	Queries *[]QueryNode `json:"queries,omitempty"`
}

// MarshalJSON renders the request in its introspection form:
// {"type":"request","kind":...,"path":...} plus group only when true and
// queries only for query requests.
func (r Request) MarshalJSON() ([]byte, error) {
	out := requestJSON{
		Type:  "request",
		Kind:  r.Kind,
		Path:  r.Scope.Path(),
		Group: r.Scope.IsGroup(),
	}
	switch r.Kind {
	case KindGet:
		out.ID = r.ID
	case KindMany:
		out.IDs = r.IDs
	case KindQuery:
		queries := r.Queries
		if queries == nil {
			queries = []QueryNode{}
		}
		out.Queries = &queries
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the form produced by MarshalJSON.
func (r *Request) UnmarshalJSON(b []byte) error {
	var in requestJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if in.Type != "" && in.Type != "request" {
		return fmt.Errorf("unexpected type %q", in.Type)
	}
	*r = Request{Kind: in.Kind, ID: in.ID, IDs: in.IDs}
	if in.Queries != nil {
		r.Queries = *in.Queries
	}
	if in.Group {
		r.Scope = GroupScope(in.Path)
	} else {
		r.Scope = CollectionScope(in.Path)
	}
	return nil
}
