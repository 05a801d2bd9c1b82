// Package filter compiles and evaluates event-source filter patterns.
//
// A pattern is a JSON object whose leaves are arrays of matchers:
//
//	{"eventName": ["MODIFY"]}
//	{"dynamodb": {"NewImage": {"status": {"S": [{"prefix": "done"}]}}}}
//
// Matching is done by quamina, which already speaks this pattern language.
// Patterns are normalized first: suffix becomes a quamina wildcard and a single
// anything-but value becomes a list. Numeric ranges have no quamina operator, so
// a field that uses numeric is lifted out of the pattern and checked against the
// decoded event after quamina has matched the rest.
package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"quamina.net/go/quamina"
)

// SyntaxError describes a pattern that cannot be compiled.
type SyntaxError struct {
	Path string
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Path == "" {
		return "invalid filter pattern: " + e.Msg
	}
	return fmt.Sprintf("invalid filter pattern at %s: %s", e.Path, e.Msg)
}

// Pattern is a compiled filter pattern. It is safe for concurrent use.
type Pattern struct {
	source string

	// mu serializes access to q; a quamina instance is single-threaded.
	mu      sync.Mutex
	q       *quamina.Quamina
	numeric []numericField
}

// Compile parses a JSON filter pattern.
func Compile(pattern string) (*Pattern, error) {
	dec := json.NewDecoder(strings.NewReader(pattern))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &SyntaxError{Msg: err.Error()}
	}
	if dec.More() {
		return nil, &SyntaxError{Msg: "trailing data after pattern"}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &SyntaxError{Msg: "pattern must be a JSON object"}
	}
	if len(m) == 0 {
		return nil, &SyntaxError{Msg: "pattern must not be empty"}
	}

	rewritten, numeric, err := normalize(nil, m)
	if err != nil {
		return nil, err
	}
	p := &Pattern{source: pattern, numeric: numeric}
	if len(rewritten) == 0 {
		return p, nil
	}

	data, err := json.Marshal(rewritten)
	if err != nil {
		return nil, &SyntaxError{Msg: err.Error()}
	}
	q, err := quamina.New()
	if err != nil {
		return nil, fmt.Errorf("creating matcher: %w", err)
	}
	if err := q.AddPattern(pattern, string(data)); err != nil {
		return nil, &SyntaxError{Msg: err.Error()}
	}
	p.q = q
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string {
	return p.source
}

// Match reports whether a JSON event matches the pattern.
func (p *Pattern) Match(event []byte) (bool, error) {
	if !json.Valid(event) {
		return false, errors.New("decoding event: invalid JSON")
	}

	if p.q != nil {
		p.mu.Lock()
		matches, err := p.q.MatchesForEvent(event)
		p.mu.Unlock()
		if err != nil {
			return false, fmt.Errorf("matching event: %w", err)
		}
		if len(matches) == 0 {
			return false, nil
		}
	}
	if len(p.numeric) == 0 {
		return true, nil
	}

	dec := json.NewDecoder(bytes.NewReader(event))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return false, fmt.Errorf("decoding event: %w", err)
	}
	root, ok := v.(map[string]any)
	if !ok {
		return false, nil
	}
	for _, f := range p.numeric {
		if !f.match(root) {
			return false, nil
		}
	}
	return true, nil
}

// MatchValue matches an already decoded event. Anything other than a JSON
// object never matches.
func (p *Pattern) MatchValue(event any) bool {
	if _, ok := event.(map[string]any); !ok {
		return false
	}
	ok, err := p.MatchEvent(event)
	return err == nil && ok
}

// MatchEvent marshals v to JSON and matches the result.
func (p *Pattern) MatchEvent(v any) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encoding event: %w", err)
	}
	return p.Match(data)
}

// Criteria is a set of patterns; an event passes when any pattern matches, and an
// empty set passes everything.
type Criteria []*Pattern

// CompileAll compiles each pattern.
func CompileAll(patterns ...string) (Criteria, error) {
	out := make(Criteria, 0, len(patterns))
	for i, src := range patterns {
		p, err := Compile(src)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// MatchEvent reports whether v passes the criteria.
func (c Criteria) MatchEvent(v any) (bool, error) {
	if len(c) == 0 {
		return true, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encoding event: %w", err)
	}
	for _, p := range c {
		ok, err := p.Match(data)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// normalize validates m and rewrites it into a quamina pattern. Fields that use
// numeric are returned separately and left out of the rewritten object.
func normalize(path []string, m map[string]any) (map[string]any, []numericField, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(m))
	var numeric []numericField
	for _, key := range keys {
		fieldPath := append(append([]string(nil), path...), key)
		at := strings.Join(fieldPath, ".")
		switch v := m[key].(type) {
		case map[string]any:
			if len(v) == 0 {
				return nil, nil, &SyntaxError{Path: at, Msg: "empty object"}
			}
			nested, nums, err := normalize(fieldPath, v)
			if err != nil {
				return nil, nil, err
			}
			if len(nested) > 0 {
				out[key] = nested
			}
			numeric = append(numeric, nums...)
		case []any:
			if len(v) == 0 {
				return nil, nil, &SyntaxError{Path: at, Msg: "empty matcher list"}
			}
			if usesNumeric(v) {
				f, err := compileNumericField(fieldPath, v)
				if err != nil {
					return nil, nil, err
				}
				numeric = append(numeric, f)
				continue
			}
			list := make([]any, 0, len(v))
			for _, elem := range v {
				rewritten, err := rewriteMatcher(at, elem)
				if err != nil {
					return nil, nil, err
				}
				list = append(list, rewritten)
			}
			out[key] = list
		default:
			return nil, nil, &SyntaxError{Path: at, Msg: "value must be an array of matchers or a nested object"}
		}
	}
	return out, numeric, nil
}

var wildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`)

func rewriteMatcher(path string, raw any) (any, error) {
	switch v := raw.(type) {
	case nil, string, bool, json.Number:
		return v, nil
	case map[string]any:
		if len(v) != 1 {
			return nil, &SyntaxError{Path: path, Msg: "operator object must have exactly one key"}
		}
		for op, arg := range v {
			return rewriteOperator(path, op, arg)
		}
	}
	return nil, &SyntaxError{Path: path, Msg: fmt.Sprintf("unsupported matcher %v", raw)}
}

func rewriteOperator(path, op string, arg any) (any, error) {
	switch op {
	case "prefix", "equals-ignore-case":
		if _, ok := arg.(string); !ok {
			return nil, &SyntaxError{Path: path, Msg: op + " requires a string"}
		}
		return map[string]any{op: arg}, nil

	case "suffix":
		s, ok := arg.(string)
		if !ok {
			return nil, &SyntaxError{Path: path, Msg: "suffix requires a string"}
		}
		return map[string]any{"wildcard": "*" + wildcardEscaper.Replace(s)}, nil

	case "exists":
		if _, ok := arg.(bool); !ok {
			return nil, &SyntaxError{Path: path, Msg: "exists requires a boolean"}
		}
		return map[string]any{op: arg}, nil

	case "anything-but":
		values, err := anythingBut(path, arg)
		if err != nil {
			return nil, err
		}
		return map[string]any{op: values}, nil

	case "numeric":
		return nil, &SyntaxError{Path: path, Msg: "numeric cannot be combined with other matchers"}
	}
	return nil, &SyntaxError{Path: path, Msg: fmt.Sprintf("unknown operator %q", op)}
}

func anythingBut(path string, arg any) ([]any, error) {
	switch v := arg.(type) {
	case string:
		return []any{v}, nil
	case []any:
		if len(v) == 0 {
			return nil, &SyntaxError{Path: path, Msg: "anything-but list must not be empty"}
		}
		for _, elem := range v {
			if _, ok := elem.(string); !ok {
				return nil, &SyntaxError{Path: path, Msg: "anything-but accepts strings only"}
			}
		}
		return v, nil
	}
	return nil, &SyntaxError{Path: path, Msg: "anything-but accepts a string or a list of strings"}
}
