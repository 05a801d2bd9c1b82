// Package deploy uploads function assets and creates, updates or deletes the blob
// stack through CloudFormation.
package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/assets"
	"github.com/lex00/blobstack-go/internal/differ"
	"github.com/lex00/blobstack-go/internal/logging"
	"github.com/lex00/blobstack-go/internal/template"
)

var (
	// ErrStackNotFound is returned when the stack does not exist.
	ErrStackNotFound = errors.New("stack not found")
	// ErrNoChanges is returned when the deployed stack already matches the template.
	ErrNoChanges = errors.New("no changes to deploy")
)

// Stack tags written on every deploy.
const (
	ServiceTag     = "blobstack:service"
	FingerprintTag = "blobstack:fingerprint"
)

// maxTemplateBody is the largest template CloudFormation accepts inline. Larger
// templates are uploaded next to the assets.
const maxTemplateBody = 51200

const (
	defaultTimeout = 30 * time.Minute
	templatePrefix = "templates/"
	noUpdatesMsg   = "No updates are to be performed"
)

// CloudFormationAPI is the subset of the CloudFormation client the deployer uses.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	GetTemplate(ctx context.Context, params *cloudformation.GetTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error)
}

// S3API is the subset of the S3 client the deployer uses.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	_ CloudFormationAPI = (*cloudformation.Client)(nil)
	_ S3API             = (*s3.Client)(nil)
)

// Options configures a Deployer.
type Options struct {
	StackName string
	Service   string
	Region    string
	// AssetBucket receives function archives and oversized templates.
	AssetBucket string
	// Timeout bounds each wait for a stack operation.
	Timeout time.Duration
	// PollInterval overrides the waiters' minimum delay between polls.
	PollInterval time.Duration
}

// Status is the observed state of the stack.
type Status struct {
	StackName   string
	StackStatus string
	Reason      string
	Fingerprint string
	Outputs     map[string]string
}

// Deployer deploys the blob stack.
type Deployer struct {
	cfn  CloudFormationAPI
	s3   S3API
	log  logging.Log
	opts Options
}

// New creates a Deployer.
func New(cfn CloudFormationAPI, s3 S3API, log logging.Log, opts Options) *Deployer {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if log == nil {
		log = logging.NewNoOpLog()
	}
	return &Deployer{
		cfn:  cfn,
		s3:   s3,
		log:  log.WithField("stack", opts.StackName),
		opts: opts,
	}
}

// Fingerprint returns a stable hash of a template.
func Fingerprint(t *blobstack.Template) (string, error) {
	hash, err := hashstructure.Hash(t, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hashing template: %w", err)
	}
	return strconv.FormatUint(hash, 16), nil
}

// Deploy uploads the assets and creates or updates the stack, waiting for the
// operation to finish. ErrNoChanges is returned, together with the current status,
// when the stack already runs this template.
func (d *Deployer) Deploy(ctx context.Context, t *blobstack.Template, archives []*assets.Asset) (*Status, error) {
	fingerprint, err := Fingerprint(t)
	if err != nil {
		return nil, err
	}

	current, err := d.Status(ctx)
	switch {
	case errors.Is(err, ErrStackNotFound):
		current = nil
	case err != nil:
		return nil, err
	}

	if current != nil {
		if current.StackStatus == string(cfntypes.StackStatusRollbackComplete) {
			return current, fmt.Errorf("stack %s is in %s; destroy it before deploying", d.opts.StackName, current.StackStatus)
		}
		if strings.HasSuffix(current.StackStatus, "_IN_PROGRESS") {
			return current, fmt.Errorf("stack %s is busy (%s)", d.opts.StackName, current.StackStatus)
		}
		if current.Fingerprint == fingerprint {
			d.log.WithField("fingerprint", fingerprint).Info("Template unchanged; skipping deploy")
			return current, ErrNoChanges
		}
	}

	if err := d.UploadAssets(ctx, archives); err != nil {
		return nil, err
	}

	body, url, err := d.templateSource(ctx, t, fingerprint)
	if err != nil {
		return nil, err
	}
	tags := d.tags(fingerprint)
	token := aws.String("blobstack-" + uuid.NewString())
	capabilities := []cfntypes.Capability{cfntypes.CapabilityCapabilityNamedIam}

	if current == nil {
		d.log.Info("Creating stack")
		_, err = d.cfn.CreateStack(ctx, &cloudformation.CreateStackInput{
			StackName:          aws.String(d.opts.StackName),
			TemplateBody:       body,
			TemplateURL:        url,
			Capabilities:       capabilities,
			Tags:               tags,
			ClientRequestToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("creating stack %s: %w", d.opts.StackName, err)
		}
		waiter := cloudformation.NewStackCreateCompleteWaiter(d.cfn, func(o *cloudformation.StackCreateCompleteWaiterOptions) {
			o.MinDelay, o.MaxDelay = d.delays(o.MinDelay, o.MaxDelay)
		})
		if err := waiter.Wait(ctx, d.describeInput(), d.opts.Timeout); err != nil {
			return nil, d.failed("create", err)
		}
	} else {
		d.log.WithField("status", current.StackStatus).Info("Updating stack")
		_, err = d.cfn.UpdateStack(ctx, &cloudformation.UpdateStackInput{
			StackName:          aws.String(d.opts.StackName),
			TemplateBody:       body,
			TemplateURL:        url,
			Capabilities:       capabilities,
			Tags:               tags,
			ClientRequestToken: token,
		})
		if isNoUpdates(err) {
			d.log.Info("CloudFormation reports no updates")
			return current, ErrNoChanges
		}
		if err != nil {
			return nil, fmt.Errorf("updating stack %s: %w", d.opts.StackName, err)
		}
		waiter := cloudformation.NewStackUpdateCompleteWaiter(d.cfn, func(o *cloudformation.StackUpdateCompleteWaiterOptions) {
			o.MinDelay, o.MaxDelay = d.delays(o.MinDelay, o.MaxDelay)
		})
		if err := waiter.Wait(ctx, d.describeInput(), d.opts.Timeout); err != nil {
			return nil, d.failed("update", err)
		}
	}

	status, err := d.Status(ctx)
	if err != nil {
		return nil, err
	}
	d.log.WithField("status", status.StackStatus).Info("Stack deployed")
	return status, nil
}

// UploadAssets puts every archive into the asset bucket. Keys are content hashes,
// so an existing key is skipped.
func (d *Deployer) UploadAssets(ctx context.Context, archives []*assets.Asset) error {
	for _, a := range archives {
		log := d.log.WithFields(logging.Fields{"function": a.Function, "key": a.Key()})
		exists, err := d.objectExists(ctx, a.Key())
		if err != nil {
			return err
		}
		if exists {
			log.Debug("Asset already uploaded")
			continue
		}
		if err := d.put(ctx, a.Key(), a.Data, "application/zip"); err != nil {
			return err
		}
		log.WithField("bytes", len(a.Data)).Info("Uploaded asset")
	}
	return nil
}

// Destroy deletes the stack and waits until it is gone.
func (d *Deployer) Destroy(ctx context.Context) error {
	if _, err := d.Status(ctx); err != nil {
		return err
	}

	d.log.Info("Deleting stack")
	_, err := d.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName:          aws.String(d.opts.StackName),
		ClientRequestToken: aws.String("blobstack-" + uuid.NewString()),
	})
	if err != nil {
		return fmt.Errorf("deleting stack %s: %w", d.opts.StackName, err)
	}

	waiter := cloudformation.NewStackDeleteCompleteWaiter(d.cfn, func(o *cloudformation.StackDeleteCompleteWaiterOptions) {
		o.MinDelay, o.MaxDelay = d.delays(o.MinDelay, o.MaxDelay)
	})
	if err := waiter.Wait(ctx, d.describeInput(), d.opts.Timeout); err != nil {
		return d.failed("delete", err)
	}
	d.log.Info("Stack deleted")
	return nil
}

// Status describes the stack.
func (d *Deployer) Status(ctx context.Context) (*Status, error) {
	out, err := d.cfn.DescribeStacks(ctx, d.describeInput())
	if err != nil {
		if isStackMissing(err) {
			return nil, fmt.Errorf("%s: %w", d.opts.StackName, ErrStackNotFound)
		}
		return nil, fmt.Errorf("describing stack %s: %w", d.opts.StackName, err)
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("%s: %w", d.opts.StackName, ErrStackNotFound)
	}

	stack := out.Stacks[0]
	status := &Status{
		StackName:   aws.ToString(stack.StackName),
		StackStatus: string(stack.StackStatus),
		Reason:      aws.ToString(stack.StackStatusReason),
		Outputs:     make(map[string]string, len(stack.Outputs)),
	}
	for _, o := range stack.Outputs {
		status.Outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	for _, tag := range stack.Tags {
		if aws.ToString(tag.Key) == FingerprintTag {
			status.Fingerprint = aws.ToString(tag.Value)
		}
	}
	return status, nil
}

// DeployedTemplate fetches the template the stack was last deployed with.
func (d *Deployer) DeployedTemplate(ctx context.Context) (*blobstack.Template, error) {
	out, err := d.cfn.GetTemplate(ctx, &cloudformation.GetTemplateInput{
		StackName:     aws.String(d.opts.StackName),
		TemplateStage: cfntypes.TemplateStageOriginal,
	})
	if err != nil {
		if isStackMissing(err) {
			return nil, fmt.Errorf("%s: %w", d.opts.StackName, ErrStackNotFound)
		}
		return nil, fmt.Errorf("getting template of %s: %w", d.opts.StackName, err)
	}
	t, err := differ.ParseTemplate([]byte(aws.ToString(out.TemplateBody)))
	if err != nil {
		return nil, fmt.Errorf("parsing deployed template: %w", err)
	}
	return t, nil
}

// SortedOutputs returns output keys in order.
func (s *Status) SortedOutputs() []string {
	keys := make([]string, 0, len(s.Outputs))
	for k := range s.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *Deployer) templateSource(ctx context.Context, t *blobstack.Template, fingerprint string) (body, url *string, err error) {
	data, err := template.ToJSON(t)
	if err != nil {
		return nil, nil, fmt.Errorf("serializing template: %w", err)
	}
	if len(data) <= maxTemplateBody {
		return aws.String(string(data)), nil, nil
	}

	if d.opts.AssetBucket == "" {
		return nil, nil, fmt.Errorf("template is %d bytes and no asset bucket is configured", len(data))
	}
	key := templatePrefix + fingerprint + ".json"
	if err := d.put(ctx, key, data, "application/json"); err != nil {
		return nil, nil, err
	}
	d.log.WithField("key", key).Debug("Uploaded template")
	return nil, aws.String(d.objectURL(key)), nil
}

func (d *Deployer) objectURL(key string) string {
	if d.opts.Region == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", d.opts.AssetBucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", d.opts.AssetBucket, d.opts.Region, key)
}

func (d *Deployer) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := d.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.opts.AssetBucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *s3types.NotFound
	var apiErr smithy.APIError
	if errors.As(err, &notFound) || (errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound") {
		return false, nil
	}
	return false, fmt.Errorf("s3 head object bucket=%s key=%s: %w", d.opts.AssetBucket, key, err)
}

func (d *Deployer) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := d.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.opts.AssetBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put object bucket=%s key=%s: %w", d.opts.AssetBucket, key, err)
	}
	return nil
}

func (d *Deployer) tags(fingerprint string) []cfntypes.Tag {
	tags := []cfntypes.Tag{{Key: aws.String(FingerprintTag), Value: aws.String(fingerprint)}}
	if d.opts.Service != "" {
		tags = append(tags, cfntypes.Tag{Key: aws.String(ServiceTag), Value: aws.String(d.opts.Service)})
	}
	return tags
}

func (d *Deployer) describeInput() *cloudformation.DescribeStacksInput {
	return &cloudformation.DescribeStacksInput{StackName: aws.String(d.opts.StackName)}
}

func (d *Deployer) delays(minDelay, maxDelay time.Duration) (time.Duration, time.Duration) {
	if d.opts.PollInterval <= 0 {
		return minDelay, maxDelay
	}
	if maxDelay < d.opts.PollInterval {
		maxDelay = d.opts.PollInterval
	}
	return d.opts.PollInterval, maxDelay
}

// failed wraps a waiter error with the stack's final status reason when available.
func (d *Deployer) failed(op string, err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if status, serr := d.Status(ctx); serr == nil && status.Reason != "" {
		return fmt.Errorf("stack %s %s failed (%s: %s): %w", d.opts.StackName, op, status.StackStatus, status.Reason, err)
	}
	return fmt.Errorf("stack %s %s failed: %w", d.opts.StackName, op, err)
}

func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.ErrorMessage(), noUpdatesMsg)
}
