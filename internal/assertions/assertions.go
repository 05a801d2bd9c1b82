// Package assertions checks synthesized templates in tests.
//
//	tmpl := assertions.New(t, result.Template)
//	tmpl.ResourceCountIs("AWS::ApiGateway::RestApi", 1)
//	tmpl.HasResourceProperties("AWS::DynamoDB::Table", map[string]any{
//	    "StreamSpecification": map[string]any{"StreamViewType": "NEW_AND_OLD_IMAGES"},
//	})
//
// Patterns are matched against the template's JSON form. Objects match when every
// key of the pattern matches (extra keys are ignored), arrays match element by
// element, and scalars match by equality. Numbers may be given as Go ints.
package assertions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobstack "github.com/lex00/blobstack-go"
)

// Absent matches a key that is not present.
type Absent struct{}

// Template wraps a synthesized template for assertions.
type Template struct {
	tb        testing.TB
	resources map[string]map[string]any
	outputs   map[string]any
}

// New normalizes tmpl to its JSON form. It fails the test if tmpl does not marshal.
func New(tb testing.TB, tmpl *blobstack.Template) *Template {
	tb.Helper()
	data, err := json.Marshal(tmpl)
	require.NoError(tb, err)

	var raw struct {
		Resources map[string]map[string]any `json:"Resources"`
		Outputs   map[string]any            `json:"Outputs"`
	}
	require.NoError(tb, json.Unmarshal(data, &raw))
	return &Template{tb: tb, resources: raw.Resources, outputs: raw.Outputs}
}

// ResourceCountIs asserts the number of resources of a type.
func (a *Template) ResourceCountIs(cfnType string, n int) bool {
	a.tb.Helper()
	return assert.Equal(a.tb, n, len(a.ofType(cfnType)), "count of %s", cfnType)
}

// FindResources returns the resources of a type whose properties match props,
// keyed by logical ID. A nil props matches every resource of the type.
func (a *Template) FindResources(cfnType string, props map[string]any) map[string]map[string]any {
	out := map[string]map[string]any{}
	for id, res := range a.ofType(cfnType) {
		if props == nil || Matches(props, res["Properties"]) {
			out[id] = res
		}
	}
	return out
}

// HasResourceProperties asserts that at least one resource of the type has
// properties matching props.
func (a *Template) HasResourceProperties(cfnType string, props map[string]any) bool {
	a.tb.Helper()
	if len(a.FindResources(cfnType, props)) > 0 {
		return true
	}
	return assert.Fail(a.tb, fmt.Sprintf("no %s matches properties", cfnType),
		"pattern: %s\ncandidates: %s", pretty(props), pretty(a.ofType(cfnType)))
}

// HasResource asserts that at least one resource of the type matches def, which
// is compared against the whole resource (Properties, DependsOn, DeletionPolicy).
func (a *Template) HasResource(cfnType string, def map[string]any) bool {
	a.tb.Helper()
	for _, res := range a.ofType(cfnType) {
		if Matches(def, res) {
			return true
		}
	}
	return assert.Fail(a.tb, fmt.Sprintf("no %s matches resource", cfnType),
		"pattern: %s\ncandidates: %s", pretty(def), pretty(a.ofType(cfnType)))
}

// HasOutput asserts that an output exists and matches props.
func (a *Template) HasOutput(name string, props map[string]any) bool {
	a.tb.Helper()
	out, ok := a.outputs[name]
	if !ok {
		return assert.Fail(a.tb, fmt.Sprintf("output %s not found", name), "outputs: %v", sortedKeys(a.outputs))
	}
	if props != nil && !Matches(props, out) {
		return assert.Fail(a.tb, fmt.Sprintf("output %s does not match", name),
			"pattern: %s\nactual: %s", pretty(props), pretty(out))
	}
	return true
}

// Resource returns one resource by logical ID, failing the test when absent.
func (a *Template) Resource(id string) map[string]any {
	a.tb.Helper()
	res, ok := a.resources[id]
	require.True(a.tb, ok, "resource %s not found", id)
	return res
}

func (a *Template) ofType(cfnType string) map[string]map[string]any {
	out := map[string]map[string]any{}
	for id, res := range a.resources {
		if res["Type"] == cfnType {
			out[id] = res
		}
	}
	return out
}

// Matches reports whether actual matches pattern.
func Matches(pattern, actual any) bool {
	normalized, err := normalize(pattern)
	if err != nil {
		return false
	}
	return match(normalized, actual)
}

func match(pattern, actual any) bool {
	switch p := pattern.(type) {
	case map[string]any:
		m, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, pv := range p {
			av, present := m[k]
			if isAbsent(pv) {
				if present {
					return false
				}
				continue
			}
			if !present || !match(pv, av) {
				return false
			}
		}
		return true
	case []any:
		arr, ok := actual.([]any)
		if !ok || len(arr) != len(p) {
			return false
		}
		for i := range p {
			if !match(p[i], arr[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(pattern, actual)
	}
}

const absentMarker = "\x00absent"

func isAbsent(v any) bool {
	s, ok := v.(string)
	return ok && s == absentMarker
}

// normalize converts a Go pattern to JSON form, keeping Absent markers.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case Absent:
		return absentMarker, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func pretty(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
