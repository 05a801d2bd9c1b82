package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/lint"
)

func newLintCmd(a *app) *cobra.Command {
	var (
		outputFormat string
		enable       []string
		disable      []string
	)

	cmd := &cobra.Command{
		Use:   "lint [templates...]",
		Short: "Check the template for deployment issues",
		Long: `Lint checks the synthesized template, or the given template files, for issues.

Rules:
    BLB001: Administrative managed policy attached to a role
    BLB002: One role shared by several functions
    BLB003: Hardcoded ARN in a function environment
    BLB004: Stream filter pattern that does not compile
    BLB005: Named bucket retained on stack deletion
    BLB006: Stream mapping without a failure destination

Examples:
    blobstack lint
    blobstack lint template.json --format json
    blobstack lint --disable BLB005,BLB006`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.lintOptions()
			opts.EnabledRules = enable
			opts.DisabledRules = disable
			return runLint(a, cmd.OutOrStdout(), args, opts, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().StringSliceVar(&enable, "enable", nil, "Only run these rule IDs")
	cmd.Flags().StringSliceVar(&disable, "disable", nil, "Skip these rule IDs")

	return cmd
}

// lintOptions carries the configured admin policy and identity mode into lint.
func (a *app) lintOptions() lint.Options {
	return lint.Options{
		AdminPolicies: []string{a.cfg.AdminPolicy},
		Identity:      a.cfg.Identity,
	}
}

func runLint(a *app, out io.Writer, files []string, opts lint.Options, format string) error {
	var results []lint.Result
	if len(files) == 0 {
		synthesized, _, err := a.synthesize(false)
		if err != nil {
			return fmt.Errorf("lint failed: %w", err)
		}
		results = append(results, lint.LintTemplate(synthesized.Template, opts))
	}
	for _, file := range files {
		fileOpts := opts
		fileOpts.File = file
		r, err := lint.LintFile(file, fileOpts)
		if err != nil {
			return fmt.Errorf("lint failed: %w", err)
		}
		results = append(results, r)
	}

	result := blobstack.LintResult{Success: true}
	for _, r := range results {
		result.Success = result.Success && r.Success
		for _, issue := range r.Issues {
			result.Issues = append(result.Issues, blobstack.LintIssue{
				Resource:   issue.Resource,
				Severity:   fmt.Sprint(issue.Severity),
				Message:    issue.Message,
				Rule:       issue.Rule,
				Suggestion: issue.Suggestion,
			})
		}
	}

	return outputLintResult(out, result, format)
}

func outputLintResult(out io.Writer, result blobstack.LintResult, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))

	case "text":
		if len(result.Issues) == 0 {
			fmt.Fprintln(out, "No issues found.")
			return nil
		}
		for _, issue := range result.Issues {
			if issue.Resource != "" {
				fmt.Fprintf(out, "%s: %s: %s [%s]\n", issue.Resource, issue.Severity, issue.Message, issue.Rule)
			} else {
				fmt.Fprintf(out, "%s: %s [%s]\n", issue.Severity, issue.Message, issue.Rule)
			}
		}

	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	if !result.Success {
		return &exitError{code: 2}
	}
	return nil
}
