package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lex00/blobstack-go/internal/assets"
	"github.com/lex00/blobstack-go/internal/validation"
)

// newValidateCmd creates the "validate" subcommand.
func newValidateCmd(a *app) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the topology and its template",
		Long: `Validate checks the function contracts of the topology, then runs cfn-lint
over the synthesized template.

Checks performed:
  - Contracts: every binding, capability and trigger is consistent
  - cfn-lint: the template passes CloudFormation linting

Examples:
    blobstack validate
    blobstack validate --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(a, cmd.OutOrStdout(), outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")

	return cmd
}

func runValidate(a *app, out io.Writer, format string) error {
	result, err := validation.Validate(a.topology(), assets.StaticResolver{Bucket: a.cfg.Assets.Bucket})
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return outputValidateResult(out, result, format)
}

func outputValidateResult(out io.Writer, result *validation.Result, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(struct {
			Success bool `json:"success"`
			*validation.Result
		}{result.Passed(), result}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))

	case "text":
		if len(result.Topology) > 0 {
			fmt.Fprintln(out, "Topology validation FAILED:")
			for _, msg := range result.Topology {
				fmt.Fprintf(out, "  ERROR: %s\n", msg)
			}
			break
		}
		fmt.Fprintln(out, "Topology: OK")

		cfn := result.CfnLint
		for _, msg := range cfn.Errors {
			fmt.Fprintf(out, "  ERROR: %s\n", msg)
		}
		for _, msg := range cfn.Warnings {
			fmt.Fprintf(out, "  WARNING: %s\n", msg)
		}
		for _, msg := range cfn.Informational {
			fmt.Fprintf(out, "  INFO: %s\n", msg)
		}
		if cfn.Passed {
			fmt.Fprintf(out, "cfn-lint: passed (%d issues)\n", cfn.TotalIssues())
		} else {
			fmt.Fprintf(out, "cfn-lint: FAILED (%d errors)\n", len(cfn.Errors))
		}

	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	if !result.Passed() {
		return &exitError{code: 2}
	}
	return nil
}
