package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	blobstack "github.com/lex00/blobstack-go"
)

func newListCmd(a *app) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the stack's resources",
		Long: `List displays every resource of the synthesized stack in dependency order.

Examples:
    blobstack list
    blobstack list --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(a, cmd.OutOrStdout(), outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")

	return cmd
}

func runList(a *app, out io.Writer, format string) error {
	result, _, err := a.synthesize(false)
	if err != nil {
		return err
	}

	listResult := blobstack.ListResult{
		Resources: make([]blobstack.ListResource, 0, len(result.Order)),
	}
	for _, name := range result.Order {
		res := result.Resources[name]
		listResult.Resources = append(listResult.Resources, blobstack.ListResource{
			Name:         name,
			Type:         res.Type,
			Dependencies: res.Dependencies,
		})
	}

	return outputListResult(out, listResult, format)
}

func outputListResult(out io.Writer, result blobstack.ListResult, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))

	case "text":
		fmt.Fprintf(out, "Resources (%d):\n\n", len(result.Resources))
		for _, res := range result.Resources {
			if len(res.Dependencies) == 0 {
				fmt.Fprintf(out, "  %s: %s\n", res.Name, res.Type)
				continue
			}
			fmt.Fprintf(out, "  %s: %s (after %s)\n", res.Name, res.Type, strings.Join(res.Dependencies, ", "))
		}

	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	return nil
}
