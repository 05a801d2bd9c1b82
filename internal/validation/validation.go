// Package validation checks a blob topology and its synthesized template.
//
// Two layers run in order:
//   - the topology contract (bindings, capabilities, triggers, filters)
//   - cfn-lint-go over the synthesized template (library dependency)
package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/lex00/cfn-lint-go/pkg/lint"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/assets"
	"github.com/lex00/blobstack-go/internal/stack"
	"github.com/lex00/blobstack-go/internal/template"
	"github.com/lex00/blobstack-go/internal/topology"
)

// CfnLintResult contains the result of running cfn-lint.
type CfnLintResult struct {
	Passed        bool     `json:"passed"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Informational []string `json:"informational"`
}

// TotalIssues returns the total number of issues found.
func (r CfnLintResult) TotalIssues() int {
	return len(r.Errors) + len(r.Warnings) + len(r.Informational)
}

// Result contains both validation layers.
type Result struct {
	// Topology lists contract violations. Synthesis is skipped when any exist.
	Topology []string       `json:"topology"`
	CfnLint  *CfnLintResult `json:"cfn_lint,omitempty"`
}

// Passed reports whether the topology is valid and cfn-lint found no errors.
func (r *Result) Passed() bool {
	return len(r.Topology) == 0 && r.CfnLint != nil && r.CfnLint.Passed
}

// Validate checks topo, synthesizes it with resolver and lints the template.
func Validate(topo *topology.Topology, resolver assets.Resolver) (*Result, error) {
	result := &Result{}
	if err := topo.Validate(); err != nil {
		result.Topology = flatten(err)
		return result, nil
	}

	synthesized, err := stack.Synthesize(topo, resolver)
	if err != nil {
		return nil, fmt.Errorf("synthesizing: %w", err)
	}

	cfn, err := LintTemplate(synthesized.Template)
	if err != nil {
		return nil, err
	}
	result.CfnLint = cfn
	return result, nil
}

// LintTemplate writes t to a temporary file and runs cfn-lint-go on it.
func LintTemplate(t *blobstack.Template) (*CfnLintResult, error) {
	data, err := template.ToJSON(t)
	if err != nil {
		return nil, fmt.Errorf("serializing template: %w", err)
	}

	dir, err := os.MkdirTemp("", "blobstack-validate-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "template.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("writing template: %w", err)
	}
	return RunCfnLint(path)
}

// RunCfnLint runs cfn-lint-go on the given template file.
func RunCfnLint(templatePath string) (*CfnLintResult, error) {
	if _, err := os.Stat(templatePath); err != nil {
		return &CfnLintResult{
			Passed: false,
			Errors: []string{fmt.Sprintf("Template file not found: %s", templatePath)},
		}, nil
	}

	linter := lint.New(lint.Options{})
	matches, err := linter.LintFile(templatePath)
	if err != nil {
		return &CfnLintResult{
			Passed: false,
			Errors: []string{fmt.Sprintf("Linter error: %v", err)},
		}, nil
	}

	result := &CfnLintResult{
		Errors:        []string{},
		Warnings:      []string{},
		Informational: []string{},
	}
	for _, match := range matches {
		formatted := formatMatch(match)

		switch match.Level {
		case "Error":
			result.Errors = append(result.Errors, formatted)
		case "Warning":
			result.Warnings = append(result.Warnings, formatted)
		default:
			result.Informational = append(result.Informational, formatted)
		}
	}

	// Warnings are acceptable.
	result.Passed = len(result.Errors) == 0
	return result, nil
}

// formatMatch formats a cfn-lint-go match for display.
func formatMatch(match lint.Match) string {
	if len(match.Location.Path) > 0 {
		parts := make([]string, len(match.Location.Path))
		for i, p := range match.Location.Path {
			parts[i] = fmt.Sprintf("%v", p)
		}
		return fmt.Sprintf("%s: %s (at %s)", match.Rule.ID, match.Message, strings.Join(parts, "/"))
	}
	return fmt.Sprintf("%s: %s", match.Rule.ID, match.Message)
}

func flatten(err error) []string {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		out := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
