package lint

// Rules:
//
//	BLB001: Administrative managed policy attached to a role
//	BLB002: One role shared by several functions
//	BLB003: Hardcoded ARN in a function environment
//	BLB004: Stream filter pattern that does not compile
//	BLB005: Named bucket retained on delete blocks re-creating the stack
//	BLB006: Stream mapping without an on-failure destination

import (
	"fmt"
	"sort"
	"strings"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/filter"
)

// AdminPolicyAttached reports roles carrying an administrative managed policy.
type AdminPolicyAttached struct{}

func (r AdminPolicyAttached) ID() string { return "BLB001" }
func (r AdminPolicyAttached) Description() string {
	return "Administrative managed policy attached to a role"
}

func (r AdminPolicyAttached) Check(t *blobstack.Template, opts Options) []Issue {
	var issues []Issue
	for _, id := range resourcesOfType(t, "AWS::IAM::Role") {
		arns, _ := t.Resources[id].Properties["ManagedPolicyArns"].([]any)
		for _, arn := range arns {
			s, ok := literal(arn)
			if !ok {
				continue
			}
			for _, name := range opts.AdminPolicies {
				if strings.HasSuffix(s, ":policy/"+name) {
					issues = append(issues, newIssue(r, opts.identitySeverity(), id,
						fmt.Sprintf("role %s has managed policy %s", id, name),
						"use the least-privilege identity mode"))
				}
			}
		}
	}
	return issues
}

// SharedFunctionRole reports roles assumed by more than one function.
type SharedFunctionRole struct{}

func (r SharedFunctionRole) ID() string { return "BLB002" }
func (r SharedFunctionRole) Description() string {
	return "One role shared by several functions"
}

func (r SharedFunctionRole) Check(t *blobstack.Template, opts Options) []Issue {
	users := make(map[string][]string)
	for _, id := range resourcesOfType(t, "AWS::Lambda::Function") {
		if role, ok := getAttTarget(t.Resources[id].Properties["Role"]); ok {
			users[role] = append(users[role], id)
		}
	}

	var issues []Issue
	for role, fns := range users {
		if len(fns) < 2 {
			continue
		}
		issues = append(issues, newIssue(r, opts.identitySeverity(), role,
			fmt.Sprintf("role %s is shared by %d functions: %s", role, len(fns), strings.Join(fns, ", ")),
			"give each function its own role"))
	}
	return issues
}

// HardcodedEnvironmentArn reports literal ARNs in function environment variables.
type HardcodedEnvironmentArn struct{}

func (r HardcodedEnvironmentArn) ID() string { return "BLB003" }
func (r HardcodedEnvironmentArn) Description() string {
	return "Hardcoded ARN in a function environment"
}

func (r HardcodedEnvironmentArn) Check(t *blobstack.Template, _ Options) []Issue {
	var issues []Issue
	for _, id := range resourcesOfType(t, "AWS::Lambda::Function") {
		env, _ := t.Resources[id].Properties["Environment"].(map[string]any)
		vars, _ := env["Variables"].(map[string]any)
		for _, name := range sortedKeys(vars) {
			s, ok := vars[name].(string)
			if !ok || !strings.HasPrefix(s, "arn:") {
				continue
			}
			issues = append(issues, newIssue(r, SeverityWarning, id,
				fmt.Sprintf("%s of %s is a hardcoded ARN", name, id),
				"reference the resource with Ref or Fn::GetAtt"))
		}
	}
	return issues
}

// MalformedStreamFilter reports event source mapping filters that do not compile.
type MalformedStreamFilter struct{}

func (r MalformedStreamFilter) ID() string { return "BLB004" }
func (r MalformedStreamFilter) Description() string {
	return "Stream filter pattern that does not compile"
}

func (r MalformedStreamFilter) Check(t *blobstack.Template, _ Options) []Issue {
	var issues []Issue
	for _, id := range resourcesOfType(t, "AWS::Lambda::EventSourceMapping") {
		criteria, _ := t.Resources[id].Properties["FilterCriteria"].(map[string]any)
		filters, _ := criteria["Filters"].([]any)
		for i, f := range filters {
			m, _ := f.(map[string]any)
			pattern, ok := m["Pattern"].(string)
			if !ok {
				issues = append(issues, newIssue(r, SeverityError, id,
					fmt.Sprintf("filter %d of %s has no string pattern", i, id), ""))
				continue
			}
			if _, err := filter.Compile(pattern); err != nil {
				issues = append(issues, newIssue(r, SeverityError, id,
					fmt.Sprintf("filter %d of %s: %v", i, id, err), ""))
			}
		}
	}
	return issues
}

// RetainedNamedBucket reports explicitly named buckets that survive stack deletion.
// The retained bucket keeps its name, so creating the stack again fails.
type RetainedNamedBucket struct{}

func (r RetainedNamedBucket) ID() string { return "BLB005" }
func (r RetainedNamedBucket) Description() string {
	return "Named bucket retained on delete blocks re-creating the stack"
}

func (r RetainedNamedBucket) Check(t *blobstack.Template, _ Options) []Issue {
	var issues []Issue
	for _, id := range resourcesOfType(t, "AWS::S3::Bucket") {
		def := t.Resources[id]
		if def.DeletionPolicy != "Retain" {
			continue
		}
		name, ok := def.Properties["BucketName"].(string)
		if !ok {
			continue
		}
		issues = append(issues, newIssue(r, SeverityInfo, id,
			fmt.Sprintf("bucket %s is retained on delete; re-creating the stack fails while it exists", name),
			"set bucket.removal_policy to destroy for disposable stacks"))
	}
	return issues
}

// MissingFailureDestination reports stream mappings that drop records after retries.
type MissingFailureDestination struct{}

func (r MissingFailureDestination) ID() string { return "BLB006" }
func (r MissingFailureDestination) Description() string {
	return "Stream mapping without an on-failure destination"
}

func (r MissingFailureDestination) Check(t *blobstack.Template, _ Options) []Issue {
	var issues []Issue
	for _, id := range resourcesOfType(t, "AWS::Lambda::EventSourceMapping") {
		if _, ok := t.Resources[id].Properties["DestinationConfig"]; ok {
			continue
		}
		issues = append(issues, newIssue(r, SeverityInfo, id,
			fmt.Sprintf("%s has no on-failure destination; records that keep failing are dropped", id),
			"add DestinationConfig.OnFailure"))
	}
	return issues
}

func resourcesOfType(t *blobstack.Template, typ string) []string {
	var ids []string
	for id, def := range t.Resources {
		if def.Type == typ {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// literal returns the string form of a plain string or a Fn::Sub template.
func literal(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case map[string]any:
		switch sub := val["Fn::Sub"].(type) {
		case string:
			return sub, true
		case []any:
			if len(sub) > 0 {
				s, ok := sub[0].(string)
				return s, ok
			}
		}
	}
	return "", false
}

// getAttTarget returns the logical ID of a {"Fn::GetAtt": ...} value.
func getAttTarget(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	switch att := m["Fn::GetAtt"].(type) {
	case []any:
		if len(att) == 2 {
			s, ok := att[0].(string)
			return s, ok
		}
	case string:
		if i := strings.Index(att, "."); i > 0 {
			return att[:i], true
		}
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
