package memory

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/syntrixbase/typestore/pkg/model"
)

// compiler turns where and or nodes into CEL programs over two variables:
// doc (the document data) and id (the document id).
type compiler struct {
	env   *cel.Env
	cache sync.Map // expression -> cel.Program
}

func newCompiler() (*compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &compiler{env: env}, nil
}

// compileNodes compiles the where and or nodes of a query into one program.
// It returns nil when nothing filters.
func (c *compiler) compileNodes(nodes []model.QueryNode) (cel.Program, error) {
	var expressions []string
	for _, n := range nodes {
		switch n.Type {
		case model.NodeWhere, model.NodeOr:
			expr, err := nodeToExpression(n)
			if err != nil {
				return nil, err
			}
			expressions = append(expressions, expr)
		}
	}
	if len(expressions) == 0 {
		return nil, nil
	}
	return c.compileExpression(strings.Join(expressions, " && "))
}

// compileExpression compiles a CEL expression string.
func (c *compiler) compileExpression(expr string) (cel.Program, error) {
	if prg, ok := c.cache.Load(expr); ok {
		return prg.(cel.Program), nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}
	c.cache.Store(expr, prg)
	return prg, nil
}

// evaluate runs prg against a document. Evaluation errors, such as a missing
// field or a comparison between different types, mean no match.
func evaluate(prg cel.Program, id string, data map[string]interface{}) bool {
	if prg == nil {
		return true // No filter = match all
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"doc": normalize(data),
		"id":  id,
	})
	if err != nil {
		return false
	}
	result, ok := out.Value().(bool)
	return ok && result
}

func nodeToExpression(n model.QueryNode) (string, error) {
	if n.Type == model.NodeOr {
		if len(n.Queries) == 0 {
			return "false", nil
		}
		parts := make([]string, 0, len(n.Queries))
		for _, q := range n.Queries {
			expr, err := nodeToExpression(q)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+expr+")")
		}
		return "(" + strings.Join(parts, " || ") + ")", nil
	}

	valStr, err := formatValue(n.Value)
	if err != nil {
		return "", err
	}

	field := fieldExpression(n.Field)

	switch n.Filter {
	case model.OpEq:
		return fmt.Sprintf("%s == %s", field, valStr), nil
	case model.OpNe:
		return fmt.Sprintf("%s != %s", field, valStr), nil
	case model.OpGt:
		return fmt.Sprintf("%s > %s", field, valStr), nil
	case model.OpGte:
		return fmt.Sprintf("%s >= %s", field, valStr), nil
	case model.OpLt:
		return fmt.Sprintf("%s < %s", field, valStr), nil
	case model.OpLte:
		return fmt.Sprintf("%s <= %s", field, valStr), nil
	case model.OpIn:
		return fmt.Sprintf("%s in %s", field, valStr), nil
	case model.OpNotIn:
		return fmt.Sprintf("!(%s in %s)", field, valStr), nil
	case model.OpContains:
		return fmt.Sprintf("%s in %s", valStr, field), nil
	case model.OpContainsAny:
		return fmt.Sprintf("%s.exists(x, x in %s)", valStr, field), nil
	default:
		return "", fmt.Errorf("unsupported operator: %s", n.Filter)
	}
}

func fieldExpression(path model.FieldPath) string {
	if path.IsDocID() {
		return "id"
	}
	var b strings.Builder
	b.WriteString("doc")
	for _, p := range path {
		b.WriteString("[")
		b.WriteString(strconv.Quote(p))
		b.WriteString("]")
	}
	return b.String()
}

// formatValue formats a value for use in a CEL expression. Numbers are
// always written as doubles, matching normalize.
func formatValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return strconv.Quote(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case time.Time:
		return fmt.Sprintf("timestamp(%q)", val.UTC().Format(time.RFC3339Nano)), nil
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, err := formatValue(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case map[string]interface{}:
		parts := make([]string, 0, len(val))
		for k, item := range val {
			s, err := formatValue(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, strconv.Quote(k)+": "+s)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	}

	if f, ok := toFloat(v); ok {
		return formatDouble(f), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return formatValue(items)
	case reflect.String:
		return strconv.Quote(rv.String()), nil
	}
	return "", fmt.Errorf("unsupported value type: %T", v)
}

func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return `double("NaN")`
	case math.IsInf(f, 1):
		return `double("Infinity")`
	case math.IsInf(f, -1):
		return `double("-Infinity")`
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// toFloat converts any Go number to float64.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// normalize returns a copy of v with every number converted to float64 and
// typed slices and maps converted to their generic forms.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, bool, time.Time:
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	}
	return v
}
