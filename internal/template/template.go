// Package template assembles registered resources into a CloudFormation template.
//
// Resources are added to a Builder under their logical ID. Each one is serialized
// on registration, and the references it carries (Ref, Fn::GetAtt and the ${X} /
// ${X.Attr} placeholders of Fn::Sub) become its dependencies. Build rejects
// references to unregistered resources and dependency cycles.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/serialize"
)

// FormatVersion is the only template format version CloudFormation accepts.
const FormatVersion = "2010-09-09"

// ErrDuplicateResource is returned when a logical ID is registered twice.
var ErrDuplicateResource = errors.New("duplicate resource")

// UndefinedReferenceError reports a reference to a logical ID that was never
// registered.
type UndefinedReferenceError struct {
	From string
	To   string
}

func (e *UndefinedReferenceError) Error() string {
	return fmt.Sprintf("%s references undefined resource %s", e.From, e.To)
}

// Option customizes a registered resource.
type Option func(*entry)

// DependsOn adds explicit dependencies.
func DependsOn(names ...string) Option {
	return func(e *entry) {
		e.dependsOn = append(e.dependsOn, names...)
	}
}

// DeletionPolicy sets both DeletionPolicy and UpdateReplacePolicy.
func DeletionPolicy(policy string) Option {
	return func(e *entry) {
		e.deletionPolicy = policy
		e.updateReplacePolicy = policy
	}
}

type entry struct {
	name                string
	cfnType             string
	props               map[string]any
	dependsOn           []string
	deletionPolicy      string
	updateReplacePolicy string
	refs                []string
	attrRefs            []string
}

// dependencies returns implicit and explicit dependencies, deduplicated and sorted.
func (e *entry) dependencies() []string {
	return uniqueSorted(append(append([]string{}, e.refs...), e.dependsOn...))
}

// Builder collects resources and outputs.
type Builder struct {
	description string
	entries     map[string]*entry
	outputs     map[string]blobstack.Output
	outputRefs  map[string][]string
}

// NewBuilder returns an empty builder.
func NewBuilder(description string) *Builder {
	return &Builder{
		description: description,
		entries:     make(map[string]*entry),
		outputs:     make(map[string]blobstack.Output),
		outputRefs:  make(map[string][]string),
	}
}

// Add registers a resource under a logical ID.
func (b *Builder) Add(name string, res blobstack.Resource, opts ...Option) error {
	if _, exists := b.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, name)
	}
	props, err := serialize.Resource(res)
	if err != nil {
		return fmt.Errorf("serializing %s: %w", name, err)
	}

	e := &entry{name: name, cfnType: res.ResourceType(), props: props}
	for _, opt := range opts {
		opt(e)
	}
	refs := &collector{}
	refs.walk(props)
	e.refs = uniqueSorted(refs.all)
	e.attrRefs = uniqueSorted(refs.attrs)

	b.entries[name] = e
	return nil
}

// AddOutput registers a template output.
func (b *Builder) AddOutput(name string, out blobstack.Output) error {
	if _, exists := b.outputs[name]; exists {
		return fmt.Errorf("%w: output %s", ErrDuplicateResource, name)
	}
	value, err := serialize.Normalize(out.Value)
	if err != nil {
		return fmt.Errorf("serializing output %s: %w", name, err)
	}
	out.Value = value
	if out.Export != nil {
		exportName, err := serialize.Normalize(out.Export.Name)
		if err != nil {
			return fmt.Errorf("serializing output %s: %w", name, err)
		}
		out.Export = &blobstack.Export{Name: exportName}
	}

	refs := &collector{}
	refs.walk(out.Value)
	b.outputRefs[name] = uniqueSorted(refs.all)
	b.outputs[name] = out
	return nil
}

// Discovered describes every registered resource and its dependencies.
func (b *Builder) Discovered() map[string]blobstack.DiscoveredResource {
	out := make(map[string]blobstack.DiscoveredResource, len(b.entries))
	for name, e := range b.entries {
		out[name] = blobstack.DiscoveredResource{
			Name:         name,
			Type:         e.cfnType,
			Dependencies: e.dependencies(),
			AttrRefs:     e.attrRefs,
		}
	}
	return out
}

// Order returns the logical IDs in dependency order. Resources with no ordering
// constraint between them are sorted by name.
func (b *Builder) Order() ([]string, error) {
	if err := b.checkReferences(); err != nil {
		return nil, err
	}
	return b.topologicalSort()
}

// Build constructs the template.
func (b *Builder) Build() (*blobstack.Template, error) {
	order, err := b.Order()
	if err != nil {
		return nil, err
	}

	t := &blobstack.Template{
		AWSTemplateFormatVersion: FormatVersion,
		Description:              b.description,
		Resources:                make(map[string]blobstack.ResourceDef, len(order)),
	}
	for _, name := range order {
		e := b.entries[name]
		var dependsOn []string
		if len(e.dependsOn) > 0 {
			dependsOn = uniqueSorted(e.dependsOn)
		}
		t.Resources[name] = blobstack.ResourceDef{
			Type:                e.cfnType,
			Properties:          e.props,
			DependsOn:           dependsOn,
			DeletionPolicy:      e.deletionPolicy,
			UpdateReplacePolicy: e.updateReplacePolicy,
		}
	}
	if len(b.outputs) > 0 {
		t.Outputs = make(map[string]blobstack.Output, len(b.outputs))
		for name, out := range b.outputs {
			t.Outputs[name] = out
		}
	}
	return t, nil
}

func (b *Builder) checkReferences() error {
	var result *multierror.Error
	for _, name := range sortedKeys(b.entries) {
		for _, dep := range b.entries[name].dependencies() {
			if _, ok := b.entries[dep]; !ok {
				result = multierror.Append(result, &UndefinedReferenceError{From: name, To: dep})
			}
		}
	}
	for _, name := range sortedKeys(b.outputRefs) {
		for _, dep := range b.outputRefs[name] {
			if _, ok := b.entries[dep]; !ok {
				result = multierror.Append(result, &UndefinedReferenceError{From: "output " + name, To: dep})
			}
		}
	}
	return result.ErrorOrNil()
}

// topologicalSort returns resources in dependency order (Kahn's algorithm).
func (b *Builder) topologicalSort() ([]string, error) {
	graph := make(map[string][]string)
	inDegree := make(map[string]int)
	for name := range b.entries {
		graph[name] = nil
		inDegree[name] = 0
	}
	for name, e := range b.entries {
		for _, dep := range e.dependencies() {
			graph[dep] = append(graph[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var result []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, next := range graph[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
				sort.Strings(queue)
			}
		}
	}

	if len(result) != len(b.entries) {
		return nil, b.detectCycle()
	}
	return result, nil
}

// detectCycle finds one cycle in the dependency graph and reports it.
func (b *Builder) detectCycle() error {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var stack []string

	var cycle []string
	var visit func(node string) bool
	visit = func(node string) bool {
		visited[node] = true
		onPath[node] = true
		stack = append(stack, node)
		for _, dep := range b.entries[node].dependencies() {
			if onPath[dep] {
				for i, name := range stack {
					if name == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						break
					}
				}
				return true
			}
			if !visited[dep] && visit(dep) {
				return true
			}
		}
		onPath[node] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, name := range sortedKeys(b.entries) {
		if !visited[name] && visit(name) {
			break
		}
	}
	if len(cycle) == 0 {
		return errors.New("circular dependency detected")
	}

	var sb strings.Builder
	sb.WriteString("circular dependency detected:\n")
	for i, name := range cycle {
		fmt.Fprintf(&sb, "  %s (%s)", name, b.entries[name].cfnType)
		if i < len(cycle)-1 {
			sb.WriteString("\n    → ")
		}
	}
	return errors.New(sb.String())
}

var subVar = regexp.MustCompile(`\$\{([^}!][^}]*)\}`)

// collector walks a normalized value and records the logical IDs it references.
type collector struct {
	all   []string
	attrs []string
}

func (c *collector) walk(v any) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if ref, ok := val["Ref"].(string); ok {
				c.ref(ref)
				return
			}
			if getAtt, ok := val["Fn::GetAtt"]; ok {
				c.getAtt(getAtt)
				return
			}
			if sub, ok := val["Fn::Sub"]; ok {
				c.sub(sub)
				return
			}
		}
		for _, k := range sortedKeys(val) {
			c.walk(val[k])
		}
	case []any:
		for _, elem := range val {
			c.walk(elem)
		}
	}
}

func (c *collector) ref(name string) {
	if strings.HasPrefix(name, "AWS::") {
		return
	}
	c.all = append(c.all, name)
}

func (c *collector) getAtt(v any) {
	var name string
	switch args := v.(type) {
	case []any:
		if len(args) > 0 {
			name, _ = args[0].(string)
		}
	case string:
		name, _, _ = strings.Cut(args, ".")
	}
	if name == "" {
		return
	}
	c.all = append(c.all, name)
	c.attrs = append(c.attrs, name)
}

func (c *collector) sub(v any) {
	var (
		format string
		locals map[string]any
	)
	switch args := v.(type) {
	case string:
		format = args
	case []any:
		if len(args) > 0 {
			format, _ = args[0].(string)
		}
		if len(args) > 1 {
			locals, _ = args[1].(map[string]any)
		}
	}
	for _, m := range subVar.FindAllStringSubmatch(format, -1) {
		name, attr, hasAttr := strings.Cut(m[1], ".")
		if strings.HasPrefix(name, "AWS::") {
			continue
		}
		if _, local := locals[m[1]]; local {
			continue
		}
		c.all = append(c.all, name)
		if hasAttr && attr != "" {
			c.attrs = append(c.attrs, name)
		}
	}
	for _, k := range sortedKeys(locals) {
		c.walk(locals[k])
	}
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToJSON serializes the template to indented JSON.
func ToJSON(t *blobstack.Template) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// ToYAML serializes the template to YAML.
func ToYAML(t *blobstack.Template) ([]byte, error) {
	return yaml.Marshal(t)
}
