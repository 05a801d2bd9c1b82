package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/differ"
)

func newDiffCmd(a *app) *cobra.Command {
	var (
		outputFormat string
		ignoreOrder  bool
		deployed     bool
	)

	cmd := &cobra.Command{
		Use:   "diff [template1] [template2]",
		Short: "Compare two templates",
		Long: `Diff compares CloudFormation templates resource by resource.

With two files, the first is compared against the second. With one file, it is
compared against the synthesized template. With --deployed, the live stack's
template is compared against the synthesized one.

Property changes that force CloudFormation to replace a resource are marked.

Examples:
    blobstack diff old.json new.json
    blobstack diff old.yaml
    blobstack diff --deployed --ignore-order`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if deployed && len(args) > 0 {
				return errors.New("--deployed takes no template arguments")
			}
			if !deployed && len(args) == 0 {
				return errors.New("give one or two templates, or --deployed")
			}
			opts := differ.Options{IgnoreOrder: ignoreOrder}
			return runDiff(cmd.Context(), a, cmd.OutOrStdout(), args, deployed, opts, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&ignoreOrder, "ignore-order", false, "Treat arrays as unordered")
	cmd.Flags().BoolVar(&deployed, "deployed", false, "Compare the deployed stack with the synthesized template")

	return cmd
}

func runDiff(ctx context.Context, a *app, out io.Writer, files []string, deployed bool, opts differ.Options, format string) error {
	var from, to *blobstack.Template

	if len(files) == 2 {
		result, err := differ.CompareFiles(files[0], files[1], opts)
		if err != nil {
			return err
		}
		return outputDiffResult(out, result, format)
	}

	synthesized, _, err := a.synthesize(false)
	if err != nil {
		return err
	}
	to = synthesized.Template

	if deployed {
		d, err := a.deployer(ctx)
		if err != nil {
			return err
		}
		if from, err = d.DeployedTemplate(ctx); err != nil {
			return err
		}
	} else if from, err = differ.LoadTemplate(files[0]); err != nil {
		return err
	}

	result, err := differ.Compare(from, to, opts)
	if err != nil {
		return err
	}
	return outputDiffResult(out, result, format)
}

func outputDiffResult(out io.Writer, result *differ.Result, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(blobstack.DiffResult{
			Success: true,
			Diff:    result.Diff,
			Summary: result.Summary,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))

	case "text":
		if result.Empty() {
			fmt.Fprintln(out, "No differences.")
			return nil
		}
		for _, e := range result.Diff.Added {
			fmt.Fprintf(out, "+ %s (%s)\n", e.Resource, e.Type)
		}
		for _, e := range result.Diff.Removed {
			fmt.Fprintf(out, "- %s (%s)\n", e.Resource, e.Type)
		}
		for _, e := range result.Diff.Modified {
			fmt.Fprintf(out, "~ %s (%s)\n", e.Resource, e.Type)
			for _, c := range e.Changes {
				fmt.Fprintf(out, "    %s\n", c)
			}
		}
		for _, o := range result.Diff.Outputs {
			fmt.Fprintf(out, "  output %s\n", o)
		}
		s := result.Summary
		fmt.Fprintf(out, "\n%d added, %d removed, %d modified\n", s.Added, s.Removed, s.Modified)

	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	return nil
}
