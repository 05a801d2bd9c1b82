package filter

import (
	"encoding/json"
	"fmt"
	"strings"
)

type bound struct {
	op    string
	value float64
}

// numericRange is one {"numeric": [...]} matcher; every bound must hold.
type numericRange []bound

func (r numericRange) match(f float64) bool {
	for _, b := range r {
		var pass bool
		switch b.op {
		case "=":
			pass = f == b.value
		case "<":
			pass = f < b.value
		case "<=":
			pass = f <= b.value
		case ">":
			pass = f > b.value
		case ">=":
			pass = f >= b.value
		}
		if !pass {
			return false
		}
	}
	return true
}

// numericField is a pattern field whose matchers are all numeric ranges. Any
// range matching any value at path satisfies it.
type numericField struct {
	path   []string
	ranges []numericRange
}

func (f numericField) match(root map[string]any) bool {
	for _, v := range lookup(root, f.path) {
		n, ok := toFloat(v)
		if !ok {
			continue
		}
		for _, r := range f.ranges {
			if r.match(n) {
				return true
			}
		}
	}
	return false
}

// lookup returns every value at path, flattening arrays along the way.
func lookup(root map[string]any, path []string) []any {
	values := []any{root}
	for _, key := range path {
		var next []any
		for _, v := range values {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			child, ok := m[key]
			if !ok {
				continue
			}
			if list, ok := child.([]any); ok {
				next = append(next, list...)
				continue
			}
			next = append(next, child)
		}
		values = next
	}
	return values
}

func usesNumeric(list []any) bool {
	for _, elem := range list {
		if m, ok := elem.(map[string]any); ok {
			if _, ok := m["numeric"]; ok {
				return true
			}
		}
	}
	return false
}

func compileNumericField(path []string, list []any) (numericField, error) {
	at := strings.Join(path, ".")
	f := numericField{path: path}
	for _, elem := range list {
		m, ok := elem.(map[string]any)
		arg, isNumeric := m["numeric"]
		if !ok || !isNumeric || len(m) != 1 {
			return numericField{}, &SyntaxError{Path: at, Msg: "numeric cannot be combined with other matchers"}
		}
		r, err := compileNumeric(at, arg)
		if err != nil {
			return numericField{}, err
		}
		f.ranges = append(f.ranges, r)
	}
	return f, nil
}

func compileNumeric(path string, arg any) (numericRange, error) {
	list, ok := arg.([]any)
	if !ok || len(list) == 0 || len(list)%2 != 0 || len(list) > 4 {
		return nil, &SyntaxError{Path: path, Msg: "numeric requires one or two operator/value pairs"}
	}
	var out numericRange
	for i := 0; i < len(list); i += 2 {
		op, ok := list[i].(string)
		if !ok {
			return nil, &SyntaxError{Path: path, Msg: "numeric operator must be a string"}
		}
		switch op {
		case "=", "<", "<=", ">", ">=":
		default:
			return nil, &SyntaxError{Path: path, Msg: fmt.Sprintf("unknown numeric operator %q", op)}
		}
		n, ok := list[i+1].(json.Number)
		if !ok {
			return nil, &SyntaxError{Path: path, Msg: "numeric bound must be a number"}
		}
		f, err := n.Float64()
		if err != nil {
			return nil, &SyntaxError{Path: path, Msg: err.Error()}
		}
		out = append(out, bound{op: op, value: f})
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	}
	return 0, false
}
