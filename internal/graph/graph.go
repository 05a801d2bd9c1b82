// Package graph renders the synthesized stack as a DOT or Mermaid graph: resource
// dependencies plus the event wiring that invokes each function.
package graph

import (
	"io"
	"sort"
	"strings"

	"github.com/emicklei/dot"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/stack"
	"github.com/lex00/blobstack-go/internal/topology"
)

// Format specifies the output format for the graph.
type Format string

const (
	// FormatDOT outputs Graphviz DOT format.
	FormatDOT Format = "dot"
	// FormatMermaid outputs Mermaid format for GitHub/markdown rendering.
	FormatMermaid Format = "mermaid"
)

// EventEdge is an invocation edge from an event source to a function.
type EventEdge struct {
	From  string
	To    string
	Label string
}

// EventEdges maps the topology's triggers onto logical IDs.
func EventEdges(topo *topology.Topology) []EventEdge {
	var out []EventEdge
	for _, e := range topo.Edges() {
		fn, err := topo.Function(e.Function)
		if err != nil {
			continue
		}
		out = append(out, EventEdge{From: stack.SourceID(e.Kind), To: stack.FunctionID(fn), Label: e.Label})
	}
	return out
}

// Generator creates graphs from discovered resources.
type Generator struct {
	// Format specifies the output format (dot or mermaid). Defaults to dot.
	Format Format

	// ClusterByType groups resources by AWS service.
	ClusterByType bool

	// EventsOnly draws only event sources, functions and the edges between them.
	EventsOnly bool
}

// Generate creates the graph and writes it to w.
func (g *Generator) Generate(resources map[string]blobstack.DiscoveredResource, events []EventEdge, w io.Writer) error {
	graph := g.buildGraph(resources, events)

	var output string
	if g.Format == FormatMermaid {
		output = dot.MermaidGraph(graph, dot.MermaidTopToBottom)
	} else {
		output = graph.String()
	}

	_, err := io.WriteString(w, output)
	return err
}

// GenerateString is a convenience method that returns the graph as a string.
func (g *Generator) GenerateString(resources map[string]blobstack.DiscoveredResource, events []EventEdge) (string, error) {
	var sb strings.Builder
	if err := g.Generate(resources, events, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (g *Generator) buildGraph(resources map[string]blobstack.DiscoveredResource, events []EventEdge) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "TB")

	graph.NodeInitializer(func(n dot.Node) {
		n.Attr("shape", "box")
		n.Attr("fontname", "Arial")
	})
	graph.EdgeInitializer(func(e dot.Edge) {
		e.Attr("fontname", "Arial")
		e.Attr("fontsize", "10")
	})

	visible := resources
	if g.EventsOnly {
		visible = map[string]blobstack.DiscoveredResource{}
		for _, e := range events {
			for _, id := range []string{e.From, e.To} {
				if res, ok := resources[id]; ok {
					visible[id] = res
				}
			}
		}
	}

	nodes := make(map[string]dot.Node, len(visible))
	if g.ClusterByType {
		g.addClusteredNodes(graph, visible, nodes)
	} else {
		for _, name := range sortedNames(visible) {
			nodes[name] = graph.Node(name).Label(nodeLabel(visible[name]))
		}
	}

	if !g.EventsOnly {
		for _, name := range sortedNames(visible) {
			res := visible[name]
			attrs := make(map[string]bool, len(res.AttrRefs))
			for _, ref := range res.AttrRefs {
				attrs[ref] = true
			}
			for _, dep := range res.Dependencies {
				to, ok := nodes[dep]
				if !ok {
					continue
				}
				e := graph.Edge(nodes[name], to)
				if attrs[dep] {
					e.Attr("color", "blue")
				}
			}
		}
	}

	for _, ev := range events {
		from, okFrom := nodes[ev.From]
		to, okTo := nodes[ev.To]
		if !okFrom || !okTo {
			continue
		}
		e := graph.Edge(from, to, ev.Label)
		e.Attr("color", "red")
		e.Attr("style", "bold")
	}

	return graph
}

// addClusteredNodes groups resource nodes by service; services with a single
// resource are left unclustered.
func (g *Generator) addClusteredNodes(graph *dot.Graph, resources map[string]blobstack.DiscoveredResource, nodes map[string]dot.Node) {
	byService := make(map[string][]string)
	for _, name := range sortedNames(resources) {
		service := serviceOf(resources[name].Type)
		byService[service] = append(byService[service], name)
	}

	services := make([]string, 0, len(byService))
	for s := range byService {
		services = append(services, s)
	}
	sort.Strings(services)

	for _, service := range services {
		names := byService[service]
		parent := graph
		if len(names) > 1 {
			parent = graph.Subgraph("cluster_"+service, dot.ClusterOption{})
			parent.Attr("label", service)
			parent.Attr("style", "rounded")
			parent.Attr("bgcolor", "lightyellow")
		}
		for _, name := range names {
			nodes[name] = parent.Node(name).Label(nodeLabel(resources[name]))
		}
	}
}

func nodeLabel(res blobstack.DiscoveredResource) string {
	return res.Name + "\\n[" + res.Type + "]"
}

// serviceOf extracts the service from a CloudFormation type.
// e.g., "AWS::S3::Bucket" -> "S3"
func serviceOf(cfnType string) string {
	parts := strings.Split(cfnType, "::")
	if len(parts) == 3 {
		return parts[1]
	}
	return "Other"
}

func sortedNames(resources map[string]blobstack.DiscoveredResource) []string {
	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
