package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lex00/blobstack-go/internal/graph"
)

func newGraphCmd(a *app) *cobra.Command {
	var (
		outputFormat  string
		clusterByType bool
		eventsOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Generate a graph of resources and event wiring",
		Long: `Generate a DOT or Mermaid graph of resource dependencies, with dashed edges
from each event source to the function it invokes.

The output can be rendered with Graphviz:
    blobstack graph | dot -Tpng -o stack.png

Or used in GitHub markdown (Mermaid format):
    blobstack graph -f mermaid

Examples:
    blobstack graph -c              # cluster by service
    blobstack graph --events-only   # event sources and functions only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(a, cmd.OutOrStdout(), outputFormat, clusterByType, eventsOnly)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "dot", "Output format: dot or mermaid")
	cmd.Flags().BoolVarP(&clusterByType, "cluster", "c", false, "Cluster resources by AWS service")
	cmd.Flags().BoolVar(&eventsOnly, "events-only", false, "Only draw event sources, functions and invocations")

	return cmd
}

func runGraph(a *app, out io.Writer, format string, cluster, eventsOnly bool) error {
	var graphFormat graph.Format
	switch format {
	case "dot":
		graphFormat = graph.FormatDOT
	case "mermaid":
		graphFormat = graph.FormatMermaid
	default:
		return fmt.Errorf("unknown format: %s (use 'dot' or 'mermaid')", format)
	}

	result, _, err := a.synthesize(false)
	if err != nil {
		return err
	}

	gen := &graph.Generator{
		Format:        graphFormat,
		ClusterByType: cluster,
		EventsOnly:    eventsOnly,
	}
	return gen.Generate(result.Resources, graph.EventEdges(a.topology()), out)
}
