// Package schema declares the collections of a database and the document
// shapes used to validate query field paths at runtime.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syntrixbase/typestore/pkg/model"
)

// Decl declares one collection and its nested subcollections.
type Decl struct {
	key   string
	name  string
	shape *Shape
	subs  []*Decl
	index map[string]*Decl
}

// Collection declares a collection under key. The model value (usually a zero
// struct) provides the document shape; nil accepts any field path.
func Collection(key string, m interface{}, subs ...*Decl) *Decl {
	return &Decl{key: key, name: key, shape: ShapeOf(m), subs: subs}
}

// Named overrides the name the collection has in the database.
func (d *Decl) Named(name string) *Decl {
	d.name = name
	return d
}

// Key returns the declared lookup key.
func (d *Decl) Key() string { return d.key }

// Name returns the collection name stored in the database.
func (d *Decl) Name() string { return d.name }

// Shape returns the document shape.
func (d *Decl) Shape() *Shape { return d.shape }

// Sub returns the nested collection declared under key.
func (d *Decl) Sub(key string) (*Decl, error) {
	sub, ok := d.index[key]
	if !ok {
		return nil, model.NewQueryError(model.ErrUnknownCollection, "%q has no subcollection %q", d.key, key)
	}
	return sub, nil
}

// Subs returns the nested declarations in declaration order.
func (d *Decl) Subs() []*Decl { return d.subs }

// Schema is the validated set of root collections.
type Schema struct {
	roots  []*Decl
	index  map[string]*Decl
	groups map[string]*Decl
}

// New validates the declarations and indexes them. Keys must be unique per
// level and every database name must be a valid path segment.
func New(decls ...*Decl) (*Schema, error) {
	s := &Schema{groups: make(map[string]*Decl)}
	index, err := s.register(decls, "")
	if err != nil {
		return nil, err
	}
	s.roots = decls
	s.index = index
	return s, nil
}

// MustNew is New that panics on error, for package-level schemas.
func MustNew(decls ...*Decl) *Schema {
	s, err := New(decls...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) register(decls []*Decl, parent string) (map[string]*Decl, error) {
	index := make(map[string]*Decl, len(decls))
	for _, d := range decls {
		if d == nil {
			continue
		}
		if d.key == "" {
			return nil, fmt.Errorf("collection under %q has an empty key", parent)
		}
		if !model.CheckDocumentID(d.name) {
			return nil, fmt.Errorf("collection %q has invalid name %q", d.key, d.name)
		}
		if _, dup := index[d.key]; dup {
			return nil, fmt.Errorf("collection %q declared twice under %q", d.key, parent)
		}
		index[d.key] = d
		// A group spans every collection with the same database name. The
		// first declaration found provides its shape.
		if _, ok := s.groups[d.name]; !ok {
			s.groups[d.name] = d
		}
		subs, err := s.register(d.subs, parent+"/"+d.key)
		if err != nil {
			return nil, err
		}
		d.index = subs
	}
	return index, nil
}

// Collection returns the root collection declared under key.
func (s *Schema) Collection(key string) (*Decl, error) {
	d, ok := s.index[key]
	if !ok {
		return nil, model.NewQueryError(model.ErrUnknownCollection, "%q is not declared", key)
	}
	return d, nil
}

// Group returns the declaration providing the shape of the named group.
func (s *Schema) Group(name string) (*Decl, error) {
	d, ok := s.groups[name]
	if !ok {
		return nil, model.NewQueryError(model.ErrUnknownCollection, "no collection named %q", name)
	}
	return d, nil
}

// Keys returns the root collection keys, sorted.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve finds the declaration of a database collection path such as
// "orders/o1/updates". Document ids in the path are not checked against
// anything but the id format.
func (s *Schema) Resolve(path string) (*Decl, error) {
	if err := model.ValidateCollectionPath(path); err != nil {
		return nil, err
	}
	parts := strings.Split(path, "/")
	level := s.roots
	var found *Decl
	for i := 0; i < len(parts); i += 2 {
		found = nil
		for _, d := range level {
			if d != nil && d.name == parts[i] {
				found = d
				break
			}
		}
		if found == nil {
			return nil, model.NewQueryError(model.ErrUnknownCollection, "%q is not declared", strings.Join(parts[:i+1], "/"))
		}
		level = found.subs
	}
	return found, nil
}
