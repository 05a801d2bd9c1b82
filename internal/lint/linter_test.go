package lint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/assets"
	"github.com/lex00/blobstack-go/internal/config"
	"github.com/lex00/blobstack-go/internal/stack"
	"github.com/lex00/blobstack-go/internal/topology"
)

func synthesized(t *testing.T, identity string, removal string) *blobstack.Template {
	t.Helper()
	cfg := &config.Config{
		Service:     "svc",
		StackName:   "svc",
		Identity:    identity,
		AdminPolicy: "AdministratorAccess",
		Runtime:     "python3.12",
		Handler:     "index.handler",
		SourceDir:   "src",
		Assets:      config.AssetsConfig{Bucket: "svc-assets"},
		Bucket:      config.BucketConfig{RemovalPolicy: removal},
	}
	result, err := stack.Synthesize(topology.Blobs(cfg), assets.StaticResolver{Bucket: "svc-assets"})
	require.NoError(t, err)
	return result.Template
}

func ruleIDs(issues []Issue) []string {
	var ids []string
	for _, issue := range issues {
		ids = append(ids, issue.Rule)
	}
	return ids
}

func TestLintTemplate_LeastPrivilege(t *testing.T) {
	result := LintTemplate(synthesized(t, config.IdentityLeastPrivilege, config.RemovalRetain), Options{})

	assert.True(t, result.Success)
	ids := ruleIDs(result.Issues)
	assert.NotContains(t, ids, "BLB001")
	assert.NotContains(t, ids, "BLB002")
	assert.NotContains(t, ids, "BLB003")
	assert.NotContains(t, ids, "BLB004")
	assert.Contains(t, ids, "BLB005")
	assert.Contains(t, ids, "BLB006")
	for _, issue := range result.Issues {
		assert.Equal(t, SeverityInfo, issue.Severity, issue.Message)
	}
}

func TestLintTemplate_SharedIdentity(t *testing.T) {
	result := LintTemplate(synthesized(t, config.IdentityShared, config.RemovalDestroy), Options{})

	assert.False(t, result.Success)
	ids := ruleIDs(result.Issues)
	assert.Contains(t, ids, "BLB001")
	assert.Contains(t, ids, "BLB002")
	assert.NotContains(t, ids, "BLB005")

	for _, issue := range result.Issues {
		if issue.Rule == "BLB002" {
			assert.Equal(t, stack.SharedRoleID, issue.Resource)
			assert.Contains(t, issue.Message, "shared by 4 functions")
		}
	}
}

func TestLintTemplate_SharedIdentityConfigured(t *testing.T) {
	tmpl := synthesized(t, config.IdentityShared, config.RemovalRetain)
	result := LintTemplate(tmpl, Options{Identity: config.IdentityShared})

	assert.True(t, result.Success)
	ids := ruleIDs(result.Issues)
	assert.Contains(t, ids, "BLB001")
	assert.Contains(t, ids, "BLB002")
	for _, issue := range result.Issues {
		assert.Equal(t, SeverityInfo, issue.Severity, issue.Message)
	}

	result = LintTemplate(tmpl, Options{Identity: config.IdentityLeastPrivilege})
	assert.False(t, result.Success)
}

func TestLintTemplate_CustomAdminPolicy(t *testing.T) {
	tmpl := &blobstack.Template{
		Resources: map[string]blobstack.ResourceDef{
			"Role": {Type: "AWS::IAM::Role", Properties: map[string]any{
				"ManagedPolicyArns": []any{"arn:aws:iam::aws:policy/PowerUserAccess"},
			}},
		},
	}

	assert.Empty(t, LintTemplate(tmpl, Options{}).Issues)

	result := LintTemplate(tmpl, Options{AdminPolicies: []string{"PowerUserAccess"}})
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "BLB001", result.Issues[0].Rule)
	assert.Equal(t, "Role", result.Issues[0].Resource)
}

func TestHardcodedEnvironmentArn(t *testing.T) {
	tmpl := &blobstack.Template{
		Resources: map[string]blobstack.ResourceDef{
			"GetBlobFunction": {Type: "AWS::Lambda::Function", Properties: map[string]any{
				"Environment": map[string]any{"Variables": map[string]any{
					"TABLE_NAME":  map[string]any{"Ref": "BlobsTable"},
					"TOPIC_ARN":   "arn:aws:sns:us-east-1:123456789012:topic",
					"BUCKET_NAME": "svc-blobs-bucket",
				}},
			}},
		},
	}

	issues := HardcodedEnvironmentArn{}.Check(tmpl, Options{})
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "TOPIC_ARN")
	assert.Equal(t, SeverityWarning, issues[0].Severity)
}

func TestMalformedStreamFilter(t *testing.T) {
	tmpl := &blobstack.Template{
		Resources: map[string]blobstack.ResourceDef{
			"Mapping": {Type: "AWS::Lambda::EventSourceMapping", Properties: map[string]any{
				"FilterCriteria": map[string]any{"Filters": []any{
					map[string]any{"Pattern": `{"eventName": ["MODIFY"]}`},
					map[string]any{"Pattern": `{"eventName": "MODIFY"}`},
					map[string]any{"Pattern": `not json`},
				}},
				"DestinationConfig": map[string]any{"OnFailure": map[string]any{"Destination": "arn"}},
			}},
		},
	}

	result := LintTemplate(tmpl, Options{})
	assert.False(t, result.Success)
	require.Len(t, result.Issues, 2)
	for _, issue := range result.Issues {
		assert.Equal(t, "BLB004", issue.Rule)
		assert.Equal(t, SeverityError, issue.Severity)
	}
	assert.Contains(t, result.Issues[0].Message, "filter 1")
	assert.Contains(t, result.Issues[1].Message, "filter 2")
}

func TestGetRules(t *testing.T) {
	assert.Len(t, getRules(Options{}), 6)

	rules := getRules(Options{EnabledRules: []string{"BLB001", "BLB004"}})
	require.Len(t, rules, 2)
	assert.Equal(t, "BLB001", rules[0].ID())
	assert.Equal(t, "BLB004", rules[1].ID())

	rules = getRules(Options{DisabledRules: []string{"BLB006"}})
	assert.Len(t, rules, 5)
}

func TestAllRules_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for _, r := range AllRules() {
		assert.False(t, seen[r.ID()], "duplicate rule %s", r.ID())
		assert.NotEmpty(t, r.Description())
		seen[r.ID()] = true
	}
}

func TestLintFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.yaml")
	body := "Resources:\n  BlobsBucket:\n    Type: AWS::S3::Bucket\n    DeletionPolicy: Retain\n    Properties:\n      BucketName: svc-blobs-bucket\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	result, err := LintFile(path, Options{})
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "BLB005", result.Issues[0].Rule)
	assert.Equal(t, path, result.Issues[0].File)

	_, err = LintFile(filepath.Join(t.TempDir(), "missing.json"), Options{})
	assert.Error(t, err)
}
