package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syntrixbase/typestore/pkg/model"
)

// Kind classifies a shape node.
type Kind int

const (
	// KindAny accepts every nested path (interface{} fields, untyped collections).
	KindAny Kind = iota
	// KindObject is a struct with named fields.
	KindObject
	// KindMap is a map keyed by strings; any key is valid.
	KindMap
	// KindArray is a slice or array; only the array helpers apply.
	KindArray
	// KindScalar is a leaf value.
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindObject:
		return "object"
	case KindMap:
		return "map"
	case KindArray:
		return "array"
	case KindScalar:
		return "scalar"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// Shape is the reflected structure of a document model. Struct fields are
// resolved through their json tags on first use.
type Shape struct {
	kind Kind
	typ  reflect.Type

	once   sync.Once
	fields map[string]reflect.Type
}

// Any is the shape of a collection declared without a model.
var Any = &Shape{kind: KindAny}

// ShapeOf reflects the shape of model. A nil model yields Any.
func ShapeOf(v interface{}) *Shape {
	if v == nil {
		return Any
	}
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	return shapeOfType(t)
}

func shapeOfType(t reflect.Type) *Shape {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return &Shape{kind: KindScalar, typ: t}
	case t == bytesType:
		return &Shape{kind: KindScalar, typ: t}
	}
	switch t.Kind() {
	case reflect.Interface:
		return &Shape{kind: KindAny, typ: t}
	case reflect.Struct:
		return &Shape{kind: KindObject, typ: t}
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return &Shape{kind: KindScalar, typ: t}
		}
		return &Shape{kind: KindMap, typ: t}
	case reflect.Slice, reflect.Array:
		return &Shape{kind: KindArray, typ: t}
	}
	return &Shape{kind: KindScalar, typ: t}
}

// Kind returns the node kind.
func (s *Shape) Kind() Kind { return s.kind }

// IsArray reports whether the shape is an array.
func (s *Shape) IsArray() bool { return s.kind == KindArray }

// Type returns the reflected Go type, nil for Any.
func (s *Shape) Type() reflect.Type { return s.typ }

func (s *Shape) String() string {
	if s.typ == nil {
		return s.kind.String()
	}
	return s.kind.String() + "(" + s.typ.String() + ")"
}

// Fields returns the json names of an object shape.
func (s *Shape) Fields() []string {
	if s.kind != KindObject {
		return nil
	}
	s.once.Do(s.index)
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	return names
}

// Child resolves one path segment.
func (s *Shape) Child(key string) (*Shape, error) {
	switch s.kind {
	case KindAny:
		return Any, nil
	case KindMap:
		return shapeOfType(s.typ.Elem()), nil
	case KindArray:
		if i, err := strconv.Atoi(key); err == nil && i >= 0 {
			return shapeOfType(s.typ.Elem()), nil
		}
		return nil, fmt.Errorf("array index %q is not a number", key)
	case KindObject:
		s.once.Do(s.index)
		ft, ok := s.fields[key]
		if !ok {
			return nil, fmt.Errorf("no field %q on %s", key, s.typ)
		}
		return shapeOfType(ft), nil
	}
	return nil, fmt.Errorf("%s has no field %q", s, key)
}

// Resolve walks path from s. Every failure is a query construction error
// wrapping model.ErrInvalidField.
func (s *Shape) Resolve(path []string) (*Shape, error) {
	if len(path) == 0 {
		return nil, model.NewQueryError(model.ErrInvalidField, "empty field path")
	}
	cur := s
	for i, key := range path {
		next, err := cur.Child(key)
		if err != nil {
			return nil, model.NewQueryError(model.ErrInvalidField, "%s: %v", strings.Join(path[:i+1], "."), err)
		}
		cur = next
	}
	return cur, nil
}

func (s *Shape) index() {
	s.fields = make(map[string]reflect.Type)
	collectFields(s.typ, s.fields)
}

func collectFields(t reflect.Type, out map[string]reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, skip := jsonName(f)
		if skip {
			continue
		}
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, out)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = f.Type
	}
}

func jsonName(f reflect.StructField) (name string, skip bool) {
	tag, ok := f.Tag.Lookup("json")
	if !ok {
		return "", false
	}
	name, _, _ = strings.Cut(tag, ",")
	if name == "-" {
		return "", true
	}
	return name, false
}
