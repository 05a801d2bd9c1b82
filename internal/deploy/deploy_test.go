package deploy

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/assets"
	"github.com/lex00/blobstack-go/internal/logging"
)

type fakeCFN struct {
	mu        sync.Mutex
	stack     *cfntypes.Stack
	body      string
	creates   []*cloudformation.CreateStackInput
	updates   []*cloudformation.UpdateStackInput
	deletes   int
	updateErr error
}

func missingStack() error {
	return &smithy.GenericAPIError{Code: "ValidationError", Message: "Stack with id svc does not exist"}
}

func (f *fakeCFN) DescribeStacks(_ context.Context, _ *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stack == nil {
		return nil, missingStack()
	}
	stack := *f.stack
	return &cloudformation.DescribeStacksOutput{Stacks: []cfntypes.Stack{stack}}, nil
}

func (f *fakeCFN) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, in)
	f.body = aws.ToString(in.TemplateBody)
	f.stack = &cfntypes.Stack{
		StackName:   in.StackName,
		StackStatus: cfntypes.StackStatusCreateComplete,
		Tags:        in.Tags,
		Outputs: []cfntypes.Output{
			{OutputKey: aws.String("TableName"), OutputValue: aws.String("svc-blobs")},
		},
	}
	return &cloudformation.CreateStackOutput{StackId: aws.String("stack-id")}, nil
}

func (f *fakeCFN) UpdateStack(_ context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.body = aws.ToString(in.TemplateBody)
	f.stack.StackStatus = cfntypes.StackStatusUpdateComplete
	f.stack.Tags = in.Tags
	return &cloudformation.UpdateStackOutput{StackId: aws.String("stack-id")}, nil
}

func (f *fakeCFN) DeleteStack(_ context.Context, _ *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	f.stack = nil
	return &cloudformation.DeleteStackOutput{}, nil
}

func (f *fakeCFN) GetTemplate(_ context.Context, _ *cloudformation.GetTemplateInput, _ ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stack == nil {
		return nil, missingStack()
	}
	return &cloudformation.GetTemplateOutput{TemplateBody: aws.String(f.body)}, nil
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func testTemplate(tableName string) *blobstack.Template {
	return &blobstack.Template{
		AWSTemplateFormatVersion: "2010-09-09",
		Resources: map[string]blobstack.ResourceDef{
			"BlobsTable": {Type: "AWS::DynamoDB::Table", Properties: map[string]any{"TableName": tableName}},
		},
	}
}

func testAssets() []*assets.Asset {
	return []*assets.Asset{
		{Function: "create_blob", Hash: "abc", Data: []byte("zip-a")},
		{Function: "get_blob", Hash: "def", Data: []byte("zip-b")},
	}
}

func newTestDeployer(cfn *fakeCFN, store *fakeS3) *Deployer {
	return New(cfn, store, logging.NewNoOpLog(), Options{
		StackName:   "svc",
		Service:     "svc",
		Region:      "us-east-1",
		AssetBucket: "svc-assets",
	})
}

func tagValue(tags []cfntypes.Tag, key string) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

func TestDeploy_Create(t *testing.T) {
	cfn, store := &fakeCFN{}, newFakeS3()
	d := newTestDeployer(cfn, store)

	status, err := d.Deploy(context.Background(), testTemplate("svc-blobs"), testAssets())
	require.NoError(t, err)

	require.Len(t, cfn.creates, 1)
	in := cfn.creates[0]
	assert.Equal(t, "svc", aws.ToString(in.StackName))
	assert.Contains(t, in.Capabilities, cfntypes.CapabilityCapabilityNamedIam)
	assert.True(t, strings.HasPrefix(aws.ToString(in.ClientRequestToken), "blobstack-"))
	assert.Nil(t, in.TemplateURL)
	assert.Contains(t, aws.ToString(in.TemplateBody), "svc-blobs")

	fingerprint, err := Fingerprint(testTemplate("svc-blobs"))
	require.NoError(t, err)
	assert.Equal(t, fingerprint, tagValue(in.Tags, FingerprintTag))
	assert.Equal(t, "svc", tagValue(in.Tags, ServiceTag))

	assert.Equal(t, 2, store.puts)
	assert.Contains(t, store.objects, "svc-assets/assets/abc.zip")
	assert.Equal(t, []byte("zip-b"), store.objects["svc-assets/assets/def.zip"])

	assert.Equal(t, "CREATE_COMPLETE", status.StackStatus)
	assert.Equal(t, fingerprint, status.Fingerprint)
	assert.Equal(t, map[string]string{"TableName": "svc-blobs"}, status.Outputs)
}

func TestDeploy_SkipsUnchanged(t *testing.T) {
	cfn, store := &fakeCFN{}, newFakeS3()
	d := newTestDeployer(cfn, store)

	_, err := d.Deploy(context.Background(), testTemplate("svc-blobs"), testAssets())
	require.NoError(t, err)

	status, err := d.Deploy(context.Background(), testTemplate("svc-blobs"), testAssets())
	assert.ErrorIs(t, err, ErrNoChanges)
	require.NotNil(t, status)
	assert.Empty(t, cfn.updates)
	assert.Equal(t, 2, store.puts)
}

func TestDeploy_Update(t *testing.T) {
	cfn, store := &fakeCFN{}, newFakeS3()
	d := newTestDeployer(cfn, store)

	_, err := d.Deploy(context.Background(), testTemplate("svc-blobs"), testAssets())
	require.NoError(t, err)

	status, err := d.Deploy(context.Background(), testTemplate("svc-records"), testAssets())
	require.NoError(t, err)
	require.Len(t, cfn.updates, 1)
	assert.Equal(t, "UPDATE_COMPLETE", status.StackStatus)
	assert.Equal(t, 2, store.puts, "unchanged assets are not uploaded again")
}

func TestDeploy_NoUpdatesReported(t *testing.T) {
	cfn := &fakeCFN{
		stack: &cfntypes.Stack{
			StackName:   aws.String("svc"),
			StackStatus: cfntypes.StackStatusCreateComplete,
		},
		updateErr: &smithy.GenericAPIError{Code: "ValidationError", Message: "No updates are to be performed."},
	}
	d := newTestDeployer(cfn, newFakeS3())

	_, err := d.Deploy(context.Background(), testTemplate("svc-blobs"), nil)
	assert.ErrorIs(t, err, ErrNoChanges)
	assert.Len(t, cfn.updates, 1)
}

func TestDeploy_RollbackComplete(t *testing.T) {
	cfn := &fakeCFN{
		stack: &cfntypes.Stack{
			StackName:   aws.String("svc"),
			StackStatus: cfntypes.StackStatusRollbackComplete,
		},
	}
	d := newTestDeployer(cfn, newFakeS3())

	_, err := d.Deploy(context.Background(), testTemplate("svc-blobs"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destroy it before deploying")
	assert.Empty(t, cfn.updates)
	assert.Empty(t, cfn.creates)
}

func TestDeploy_LargeTemplateUploaded(t *testing.T) {
	cfn, store := &fakeCFN{}, newFakeS3()
	d := newTestDeployer(cfn, store)

	tmpl := testTemplate("svc-blobs")
	tmpl.Description = strings.Repeat("x", maxTemplateBody)

	_, err := d.Deploy(context.Background(), tmpl, nil)
	require.NoError(t, err)

	require.Len(t, cfn.creates, 1)
	in := cfn.creates[0]
	assert.Nil(t, in.TemplateBody)
	url := aws.ToString(in.TemplateURL)
	assert.True(t, strings.HasPrefix(url, "https://svc-assets.s3.us-east-1.amazonaws.com/templates/"), url)
	assert.Equal(t, 1, store.puts)
}

func TestDestroy(t *testing.T) {
	cfn, store := &fakeCFN{}, newFakeS3()
	d := newTestDeployer(cfn, store)

	_, err := d.Deploy(context.Background(), testTemplate("svc-blobs"), nil)
	require.NoError(t, err)

	require.NoError(t, d.Destroy(context.Background()))
	assert.Equal(t, 1, cfn.deletes)

	_, err = d.Status(context.Background())
	assert.ErrorIs(t, err, ErrStackNotFound)
}

func TestDestroy_NotFound(t *testing.T) {
	cfn := &fakeCFN{}
	d := newTestDeployer(cfn, newFakeS3())

	err := d.Destroy(context.Background())
	assert.ErrorIs(t, err, ErrStackNotFound)
	assert.Zero(t, cfn.deletes)
}

func TestDeployedTemplate(t *testing.T) {
	cfn := &fakeCFN{}
	d := newTestDeployer(cfn, newFakeS3())

	_, err := d.DeployedTemplate(context.Background())
	assert.ErrorIs(t, err, ErrStackNotFound)

	_, err = d.Deploy(context.Background(), testTemplate("svc-blobs"), nil)
	require.NoError(t, err)

	deployed, err := d.DeployedTemplate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "svc-blobs", deployed.Resources["BlobsTable"].Properties["TableName"])
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(testTemplate("svc-blobs"))
	require.NoError(t, err)
	b, err := Fingerprint(testTemplate("svc-blobs"))
	require.NoError(t, err)
	c, err := Fingerprint(testTemplate("svc-records"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestStatus_SortedOutputs(t *testing.T) {
	s := &Status{Outputs: map[string]string{"TableName": "a", "ApiEndpoint": "b", "BucketName": "c"}}
	assert.Equal(t, []string{"ApiEndpoint", "BucketName", "TableName"}, s.SortedOutputs())
}
