package template

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/intrinsics"
	"github.com/lex00/blobstack-go/resources/dynamodb"
	"github.com/lex00/blobstack-go/resources/iam"
	"github.com/lex00/blobstack-go/resources/lambda"
	"github.com/lex00/blobstack-go/resources/s3"
)

func TestBuilder_Build_SimpleResource(t *testing.T) {
	b := NewBuilder("blobs")
	require.NoError(t, b.Add("BlobsBucket", s3.Bucket{BucketName: "svc-blobs-bucket"}))

	tmpl, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, tmpl.AWSTemplateFormatVersion)
	assert.Equal(t, "blobs", tmpl.Description)
	require.Len(t, tmpl.Resources, 1)

	bucket := tmpl.Resources["BlobsBucket"]
	assert.Equal(t, "AWS::S3::Bucket", bucket.Type)
	assert.Equal(t, "svc-blobs-bucket", bucket.Properties["BucketName"])
	assert.Nil(t, tmpl.Outputs)
}

func TestBuilder_Add_Duplicate(t *testing.T) {
	b := NewBuilder("")
	require.NoError(t, b.Add("BlobsBucket", s3.Bucket{}))

	err := b.Add("BlobsBucket", s3.Bucket{})
	assert.True(t, errors.Is(err, ErrDuplicateResource))
}

func TestBuilder_Options(t *testing.T) {
	b := NewBuilder("")
	require.NoError(t, b.Add("BlobsTable", dynamodb.Table{TableName: "svc-blobs"}, DeletionPolicy("Delete")))
	require.NoError(t, b.Add("BlobsBucket", s3.Bucket{}, DependsOn("BlobsTable", "BlobsTable")))

	tmpl, err := b.Build()
	require.NoError(t, err)

	table := tmpl.Resources["BlobsTable"]
	assert.Equal(t, "Delete", table.DeletionPolicy)
	assert.Equal(t, "Delete", table.UpdateReplacePolicy)
	assert.Equal(t, []string{"BlobsTable"}, tmpl.Resources["BlobsBucket"].DependsOn)
}

func TestBuilder_Discovered(t *testing.T) {
	b := NewBuilder("")
	require.NoError(t, b.Add("BlobsTable", dynamodb.Table{}))
	require.NoError(t, b.Add("GetBlobRole", iam.Role{}))
	require.NoError(t, b.Add("GetBlobFunction", lambda.Function{
		Role: blobstack.AttrRef{Resource: "GetBlobRole", Attribute: "Arn"},
		Environment: &lambda.Function_Environment{Variables: map[string]any{
			"TABLE_NAME": intrinsics.Ref{LogicalName: "BlobsTable"},
			"REGION":     intrinsics.AWS_REGION,
		}},
	}))

	discovered := b.Discovered()
	fn := discovered["GetBlobFunction"]
	assert.Equal(t, "AWS::Lambda::Function", fn.Type)
	assert.Equal(t, []string{"BlobsTable", "GetBlobRole"}, fn.Dependencies)
	assert.Equal(t, []string{"GetBlobRole"}, fn.AttrRefs)
	assert.Empty(t, discovered["BlobsTable"].Dependencies)
}

func TestBuilder_SubReferences(t *testing.T) {
	b := NewBuilder("")
	require.NoError(t, b.Add("BlobsApi", s3.Bucket{}))
	require.NoError(t, b.Add("CreateBlobFunction", s3.Bucket{}))
	require.NoError(t, b.Add("Target", lambda.Permission{
		FunctionName:  intrinsics.LambdaInvokeURI("CreateBlobFunction"),
		SourceArn:     intrinsics.ExecuteAPIArn("BlobsApi", "POST", "/blobs"),
		Principal:     "apigateway.amazonaws.com",
		SourceAccount: intrinsics.Sub{String: "${!Literal}-${AWS::AccountId}"},
	}))

	fn := b.Discovered()["Target"]
	assert.Equal(t, []string{"BlobsApi", "CreateBlobFunction"}, fn.Dependencies)
	assert.Equal(t, []string{"CreateBlobFunction"}, fn.AttrRefs)
}

func TestCollector_SubWithLocals(t *testing.T) {
	c := &collector{}
	c.walk(map[string]any{
		"Fn::Sub": []any{
			"${Name}-${BlobsTable.Arn}",
			map[string]any{"Name": map[string]any{"Ref": "BlobsBucket"}},
		},
	})
	assert.ElementsMatch(t, []string{"BlobsTable", "BlobsBucket"}, c.all)
	assert.Equal(t, []string{"BlobsTable"}, c.attrs)
}

func TestCollector_GetAttString(t *testing.T) {
	c := &collector{}
	c.walk(map[string]any{"Fn::GetAtt": "BlobsTable.StreamArn"})
	assert.Equal(t, []string{"BlobsTable"}, c.all)
}

func TestBuilder_UndefinedReference(t *testing.T) {
	b := NewBuilder("")
	require.NoError(t, b.Add("GetBlobFunction", lambda.Function{
		Role: blobstack.AttrRef{Resource: "MissingRole", Attribute: "Arn"},
	}))
	require.NoError(t, b.AddOutput("TableName", blobstack.Output{Value: intrinsics.Ref{LogicalName: "MissingTable"}}))

	_, err := b.Build()
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 2)

	var undefined *UndefinedReferenceError
	require.True(t, errors.As(merr.Errors[0], &undefined))
	assert.Equal(t, "GetBlobFunction", undefined.From)
	assert.Equal(t, "MissingRole", undefined.To)
	assert.Contains(t, merr.Errors[1].Error(), "output TableName")
}

func TestBuilder_Order(t *testing.T) {
	b := NewBuilder("")
	require.NoError(t, b.Add("ProcessBlobFunction", lambda.Function{
		Role: blobstack.AttrRef{Resource: "ProcessBlobRole", Attribute: "Arn"},
	}))
	require.NoError(t, b.Add("ProcessBlobRole", iam.Role{}))
	require.NoError(t, b.Add("BlobsBucket", s3.Bucket{}, DependsOn("ProcessBlobFunction")))
	require.NoError(t, b.Add("AnalysisBucket", s3.Bucket{}))

	order, err := b.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"AnalysisBucket", "ProcessBlobRole", "ProcessBlobFunction", "BlobsBucket"}, order)
}

func TestBuilder_DetectCycle(t *testing.T) {
	b := NewBuilder("")
	require.NoError(t, b.Add("A", s3.Bucket{BucketName: intrinsics.Ref{LogicalName: "B"}}))
	require.NoError(t, b.Add("B", s3.Bucket{BucketName: intrinsics.Ref{LogicalName: "C"}}))
	require.NoError(t, b.Add("C", s3.Bucket{}, DependsOn("A")))

	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency detected")
	assert.Contains(t, err.Error(), "A (AWS::S3::Bucket)")
	assert.Contains(t, err.Error(), "→")
}

func TestBuilder_Outputs(t *testing.T) {
	b := NewBuilder("")
	require.NoError(t, b.Add("BlobsTable", dynamodb.Table{}))
	require.NoError(t, b.AddOutput("TableStreamArn", blobstack.Output{
		Description: "stream",
		Value:       intrinsics.GetAtt{LogicalName: "BlobsTable", Attribute: "StreamArn"},
		Export:      &blobstack.Export{Name: intrinsics.Sub{String: "${AWS::StackName}-stream"}},
	}))
	assert.True(t, errors.Is(b.AddOutput("TableStreamArn", blobstack.Output{}), ErrDuplicateResource))

	tmpl, err := b.Build()
	require.NoError(t, err)

	out := tmpl.Outputs["TableStreamArn"]
	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Description": "stream",
		"Value": {"Fn::GetAtt": ["BlobsTable", "StreamArn"]},
		"Export": {"Name": {"Fn::Sub": "${AWS::StackName}-stream"}}
	}`, string(data))
}

func TestToJSON(t *testing.T) {
	b := NewBuilder("blobs")
	require.NoError(t, b.Add("BlobsBucket", s3.Bucket{BucketName: "svc-blobs-bucket"}))
	tmpl, err := b.Build()
	require.NoError(t, err)

	data, err := ToJSON(tmpl)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, FormatVersion, parsed["AWSTemplateFormatVersion"])
	assert.Contains(t, parsed["Resources"], "BlobsBucket")
}

func TestToYAML(t *testing.T) {
	b := NewBuilder("")
	require.NoError(t, b.Add("BlobsBucket", s3.Bucket{BucketName: "svc-blobs-bucket"}))
	tmpl, err := b.Build()
	require.NoError(t, err)

	data, err := ToYAML(tmpl)
	require.NoError(t, err)
	var decoded blobstack.Template
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, FormatVersion, decoded.AWSTemplateFormatVersion)
	assert.Equal(t, "svc-blobs-bucket", decoded.Resources["BlobsBucket"].Properties["BucketName"])
}
