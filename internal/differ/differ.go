// Package differ provides semantic comparison of CloudFormation templates.
package differ

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"

	blobstack "github.com/lex00/blobstack-go"
)

// Options configures the differ.
type Options struct {
	// IgnoreOrder ignores array element order in comparisons.
	IgnoreOrder bool
}

// Result contains the difference between two templates.
type Result struct {
	Diff    blobstack.TemplateDiff
	Summary blobstack.DiffSummary
}

// Empty reports whether the templates are equivalent.
func (r *Result) Empty() bool {
	return r.Summary.Total == 0 && len(r.Diff.Outputs) == 0
}

// replacementProperties are the properties whose change makes CloudFormation
// replace the resource. Replacing a named resource deletes its data.
var replacementProperties = map[string]map[string]bool{
	"AWS::DynamoDB::Table":      {"TableName": true, "KeySchema": true},
	"AWS::S3::Bucket":           {"BucketName": true},
	"AWS::Lambda::Function":     {"FunctionName": true},
	"AWS::Rekognition::Project": {"ProjectName": true},
	"AWS::ApiGateway::Resource": {"ParentId": true, "PathPart": true, "RestApiId": true},
	"AWS::ApiGateway::Method":   {"HttpMethod": true, "ResourceId": true, "RestApiId": true},
}

// Compare compares two CloudFormation templates: from is the current state and to
// the desired one.
func Compare(from, to *blobstack.Template, opts Options) (*Result, error) {
	t1, err := normalizeTemplate(from)
	if err != nil {
		return nil, fmt.Errorf("normalizing current template: %w", err)
	}
	t2, err := normalizeTemplate(to)
	if err != nil {
		return nil, fmt.Errorf("normalizing desired template: %w", err)
	}

	result := &Result{}
	for name, def := range t2.Resources {
		if _, exists := t1.Resources[name]; !exists {
			result.Diff.Added = append(result.Diff.Added, blobstack.DiffEntry{Resource: name, Type: def.Type})
		}
	}
	for name, def := range t1.Resources {
		def2, exists := t2.Resources[name]
		if !exists {
			result.Diff.Removed = append(result.Diff.Removed, blobstack.DiffEntry{Resource: name, Type: def.Type})
			continue
		}
		if changes := compareResources(def, def2, opts); len(changes) > 0 {
			result.Diff.Modified = append(result.Diff.Modified, blobstack.DiffEntry{
				Resource: name,
				Type:     def.Type,
				Changes:  changes,
			})
		}
	}
	result.Diff.Outputs = compareOutputs(t1.Outputs, t2.Outputs, opts)

	sortEntries(result.Diff.Added)
	sortEntries(result.Diff.Removed)
	sortEntries(result.Diff.Modified)

	result.Summary = blobstack.DiffSummary{
		Added:    len(result.Diff.Added),
		Removed:  len(result.Diff.Removed),
		Modified: len(result.Diff.Modified),
	}
	result.Summary.Total = result.Summary.Added + result.Summary.Removed + result.Summary.Modified
	return result, nil
}

// CompareFiles compares two template files.
func CompareFiles(file1, file2 string, opts Options) (*Result, error) {
	t1, err := LoadTemplate(file1)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", file1, err)
	}
	t2, err := LoadTemplate(file2)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", file2, err)
	}
	return Compare(t1, t2, opts)
}

// LoadTemplate loads a CloudFormation template from a file.
func LoadTemplate(path string) (*blobstack.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTemplate(data)
}

// ParseTemplate parses a JSON or YAML template body.
func ParseTemplate(data []byte) (*blobstack.Template, error) {
	var template blobstack.Template
	if err := json.Unmarshal(data, &template); err != nil {
		template = blobstack.Template{}
		if err := yaml.Unmarshal(data, &template); err != nil {
			return nil, fmt.Errorf("failed to parse as JSON or YAML: %w", err)
		}
	}
	return &template, nil
}

// normalizeTemplate round-trips a template through JSON so values built in Go and
// values parsed from a file compare equal.
func normalizeTemplate(t *blobstack.Template) (*blobstack.Template, error) {
	if t == nil {
		return &blobstack.Template{}, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var out blobstack.Template
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func compareResources(def1, def2 blobstack.ResourceDef, opts Options) []string {
	var changes []string

	if def1.Type != def2.Type {
		changes = append(changes, fmt.Sprintf("Type changed: %s → %s", def1.Type, def2.Type))
	}

	replace := replacementProperties[def1.Type]
	for _, change := range compareValues("", def1.Properties, def2.Properties, opts) {
		if replace[change.root] {
			changes = append(changes, change.text+" (requires replacement)")
		} else {
			changes = append(changes, change.text)
		}
	}

	if !reflect.DeepEqual(sortedCopy(def1.DependsOn), sortedCopy(def2.DependsOn)) {
		changes = append(changes, "DependsOn changed")
	}
	if def1.DeletionPolicy != def2.DeletionPolicy {
		changes = append(changes, fmt.Sprintf("DeletionPolicy changed: %q → %q", def1.DeletionPolicy, def2.DeletionPolicy))
	}
	if def1.UpdateReplacePolicy != def2.UpdateReplacePolicy {
		changes = append(changes, fmt.Sprintf("UpdateReplacePolicy changed: %q → %q", def1.UpdateReplacePolicy, def2.UpdateReplacePolicy))
	}
	return changes
}

type change struct {
	root string
	text string
}

// compareValues compares two property maps recursively, descending into nested
// objects so that changes are reported at the deepest differing path.
func compareValues(prefix string, props1, props2 map[string]any, opts Options) []change {
	var changes []change
	join := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + "." + key
	}
	root := func(key string) string {
		return rootOf(join(key))
	}

	for key, val2 := range props2 {
		path := join(key)
		val1, exists := props1[key]
		if !exists {
			changes = append(changes, change{root: root(key), text: path + " added"})
			continue
		}
		m1, ok1 := val1.(map[string]any)
		m2, ok2 := val2.(map[string]any)
		if ok1 && ok2 && !isIntrinsic(m1) && !isIntrinsic(m2) {
			changes = append(changes, compareValues(path, m1, m2, opts)...)
			continue
		}
		if !deepEqual(val1, val2, opts) {
			changes = append(changes, change{root: root(key), text: path + " modified"})
		}
	}
	for key := range props1 {
		if _, exists := props2[key]; !exists {
			changes = append(changes, change{root: root(key), text: join(key) + " removed"})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].text < changes[j].text })
	return changes
}

func compareOutputs(out1, out2 map[string]blobstack.Output, opts Options) []string {
	var changes []string
	for name, o2 := range out2 {
		o1, exists := out1[name]
		switch {
		case !exists:
			changes = append(changes, name+" added")
		case !deepEqual(o1.Value, o2.Value, opts) || !reflect.DeepEqual(o1.Export, o2.Export):
			changes = append(changes, name+" modified")
		}
	}
	for name := range out1 {
		if _, exists := out2[name]; !exists {
			changes = append(changes, name+" removed")
		}
	}
	sort.Strings(changes)
	return changes
}

func rootOf(path string) string {
	for i, r := range path {
		if r == '.' {
			return path[:i]
		}
	}
	return path
}

func isIntrinsic(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	for k := range m {
		return k == "Ref" || len(k) > 4 && k[:4] == "Fn::"
	}
	return false
}

// deepEqual compares two values deeply, optionally ignoring array order.
func deepEqual(a, b any, opts Options) bool {
	if opts.IgnoreOrder {
		a = normalizeValue(a)
		b = normalizeValue(b)
	}
	return reflect.DeepEqual(a, b)
}

// normalizeValue sorts arrays by their JSON encoding, recursively.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []any:
		result := make([]any, len(val))
		for i, elem := range val {
			result[i] = normalizeValue(elem)
		}
		sort.SliceStable(result, func(i, j int) bool {
			return encode(result[i]) < encode(result[j])
		})
		return result
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, elem := range val {
			result[k] = normalizeValue(elem)
		}
		return result
	default:
		return v
	}
}

func encode(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func sortedCopy(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

// sortEntries sorts diff entries by resource name.
func sortEntries(entries []blobstack.DiffEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Resource < entries[j].Resource
	})
}
