package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]{1,64}$`)
)

func CheckDocumentID(id string) bool {
	return idRegex.MatchString(id)
}

// Ref identifies a document slot, not necessarily an existing document.
//
//	Collection is the slash separated collection path, e.g. "orders/o1/updates".
//	ID is the document id inside that collection.
type Ref struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// NewRef validates the id and the collection path and returns the reference.
func NewRef(collection, id string) (Ref, error) {
	if err := ValidateCollectionPath(collection); err != nil {
		return Ref{}, err
	}
	if !CheckDocumentID(id) {
		return Ref{}, NewQueryError(ErrInvalidID, "%q: must be 1-64 characters of a-z, A-Z, 0-9, _, ., -", id)
	}
	return Ref{Collection: collection, ID: id}, nil
}

// ValidateCollectionPath checks that a collection path alternates collection
// names and document ids and ends with a collection name.
func ValidateCollectionPath(path string) error {
	if path == "" {
		return NewQueryError(ErrUnknownCollection, "empty collection path")
	}
	parts := strings.Split(path, "/")
	if len(parts)%2 == 0 {
		return NewQueryError(ErrUnknownCollection, "%q is a document path", path)
	}
	for _, p := range parts {
		if !CheckDocumentID(p) {
			return NewQueryError(ErrUnknownCollection, "invalid segment %q in %q", p, path)
		}
	}
	return nil
}

// String returns the full document path.
func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Name returns the bare name of the collection holding the document.
func (r Ref) Name() string {
	if idx := strings.LastIndex(r.Collection, "/"); idx != -1 {
		return r.Collection[idx+1:]
	}
	return r.Collection
}

// Parent returns the document owning the subcollection, or nil for a root collection.
func (r Ref) Parent() *Ref {
	idx := strings.LastIndex(r.Collection, "/")
	if idx == -1 {
		return nil
	}
	parentPath := r.Collection[:idx]
	j := strings.LastIndex(parentPath, "/")
	if j == -1 {
		return nil
	}
	return &Ref{Collection: parentPath[:j], ID: parentPath[j+1:]}
}

func (r Ref) Equal(other Ref) bool {
	return r.Collection == other.Collection && r.ID == other.ID
}

// Environment is the runtime a document was read in.
type Environment string

const (
	EnvServer Environment = "server"
	EnvClient Environment = "client"
)

// Source tells where a document snapshot came from.
type Source string

const (
	SourceDatabase Source = "database"
	SourceCache    Source = "cache"
)

// DateStrategy tells how pending server dates are resolved. It travels in
// Props as read metadata.
type DateStrategy string

const (
	DateNone     DateStrategy = "none"
	DateEstimate DateStrategy = "estimate"
	DatePrevious DateStrategy = "previous"
)

// Props is the read provenance of a document.
type Props struct {
	Environment  Environment  `json:"environment"`
	Source       Source       `json:"source"`
	DateStrategy DateStrategy `json:"dateStrategy"`
}

// Document is a decoded record plus its reference and read provenance.
// Documents returned to the caller are never mutated by the library.
type Document struct {
	Ref     Ref                    `json:"ref"`
	Data    map[string]interface{} `json:"data"`
	Props   Props                  `json:"props"`
	Version int64                  `json:"version,omitempty"`
}

// ID returns the document id.
func (doc *Document) ID() string {
	return doc.Ref.ID
}

// Get returns the value at the nested path. Numeric segments index into arrays.
func (doc *Document) Get(path ...string) (interface{}, bool) {
	if doc == nil {
		return nil, false
	}
	return Lookup(doc.Data, path)
}

// Test reports whether the document props match every non-zero field of p.
func (doc *Document) Test(p Props) bool {
	if p.Environment != "" && doc.Props.Environment != p.Environment {
		return false
	}
	if p.Source != "" && doc.Props.Source != p.Source {
		return false
	}
	if p.DateStrategy != "" && doc.Props.DateStrategy != p.DateStrategy {
		return false
	}
	return true
}

// As decodes the document data into a typed value through its json tags.
func As[T any](doc *Document) (T, error) {
	var out T
	if doc == nil {
		return out, ErrNotFound
	}
	b, err := json.Marshal(doc.Data)
	if err != nil {
		return out, fmt.Errorf("failed to encode %s: %w", doc.Ref, err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", doc.Ref, err)
	}
	return out, nil
}

// Lookup walks a decoded value along path.
func Lookup(data map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = data
	for _, key := range path {
		switch v := cur.(type) {
		case map[string]interface{}:
			next, ok := v[key]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
