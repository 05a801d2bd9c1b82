// Package lint checks synthesized blob templates for wiring that deploys but is
// likely wrong.
package lint

import (
	"fmt"
	"sort"

	corelint "github.com/lex00/wetwire-core-go/lint"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/config"
	"github.com/lex00/blobstack-go/internal/differ"
)

// Severity is an alias for corelint.Severity.
type Severity = corelint.Severity

// Severity constants shared with the core lint package.
const (
	SeverityError   = corelint.SeverityError
	SeverityWarning = corelint.SeverityWarning
	SeverityInfo    = corelint.SeverityInfo
)

// Issue is a lint finding attached to a template resource.
type Issue struct {
	corelint.Issue
	// Resource is the logical ID the finding is about.
	Resource string
}

// Rule checks a template.
type Rule interface {
	ID() string
	Description() string
	Check(t *blobstack.Template, opts Options) []Issue
}

// Result contains the outcome of linting.
type Result struct {
	Success bool
	Issues  []Issue
}

// Options configures the linter.
type Options struct {
	// EnabledRules restricts linting to these rule IDs. If empty, all rules run.
	EnabledRules []string
	// DisabledRules are skipped.
	DisabledRules []string
	// AdminPolicies are the managed policy names BLB001 reports.
	AdminPolicies []string
	// Identity is the configured identity mode. In shared mode the admin role
	// and the shared role are intended, so BLB001 and BLB002 report info.
	Identity string
	// File is reported as the location of every issue.
	File string
}

// AllRules returns every rule in ID order.
func AllRules() []Rule {
	return []Rule{
		AdminPolicyAttached{},
		SharedFunctionRole{},
		HardcodedEnvironmentArn{},
		MalformedStreamFilter{},
		RetainedNamedBucket{},
		MissingFailureDestination{},
	}
}

// LintTemplate runs the configured rules over a template. Info issues do not fail
// the result.
func LintTemplate(t *blobstack.Template, opts Options) Result {
	if len(opts.AdminPolicies) == 0 {
		opts.AdminPolicies = []string{"AdministratorAccess"}
	}

	var issues []Issue
	for _, rule := range getRules(opts) {
		issues = append(issues, rule.Check(t, opts)...)
	}
	for i := range issues {
		issues[i].File = opts.File
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Resource != issues[j].Resource {
			return issues[i].Resource < issues[j].Resource
		}
		return issues[i].Rule < issues[j].Rule
	})

	success := true
	for _, issue := range issues {
		if issue.Severity != SeverityInfo {
			success = false
			break
		}
	}
	return Result{Success: success, Issues: issues}
}

// LintFile lints a JSON or YAML template file.
func LintFile(path string, opts Options) (Result, error) {
	t, err := differ.LoadTemplate(path)
	if err != nil {
		return Result{}, fmt.Errorf("loading %s: %w", path, err)
	}
	if opts.File == "" {
		opts.File = path
	}
	return LintTemplate(t, opts), nil
}

// getRules returns the rules to use based on options.
func getRules(opts Options) []Rule {
	enabled := make(map[string]bool, len(opts.EnabledRules))
	for _, id := range opts.EnabledRules {
		enabled[id] = true
	}
	disabled := make(map[string]bool, len(opts.DisabledRules))
	for _, id := range opts.DisabledRules {
		disabled[id] = true
	}

	var filtered []Rule
	for _, r := range AllRules() {
		if disabled[r.ID()] {
			continue
		}
		if len(enabled) > 0 && !enabled[r.ID()] {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// identitySeverity is the severity of findings about the identity wiring.
func (o Options) identitySeverity() Severity {
	if o.Identity == config.IdentityShared {
		return SeverityInfo
	}
	return SeverityWarning
}

func newIssue(rule Rule, severity Severity, resource, message, suggestion string) Issue {
	return Issue{
		Issue: corelint.Issue{
			Rule:       rule.ID(),
			Message:    message,
			Suggestion: suggestion,
			Severity:   severity,
		},
		Resource: resource,
	}
}
