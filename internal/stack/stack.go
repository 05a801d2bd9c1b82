// Package stack synthesizes a validated topology into a CloudFormation template.
//
// Physical names are derived from the service prefix. The content bucket's name
// and ARNs are written literally wherever they are needed, because the bucket
// depends on the notification target's invoke permission and a Ref back to the
// bucket would close a cycle. Everything else is wired with Ref, Fn::GetAtt and
// Fn::Sub so CloudFormation orders creation.
package stack

import (
	"fmt"
	"strings"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/contract"
	"github.com/lex00/blobstack-go/intrinsics"
	"github.com/lex00/blobstack-go/internal/assets"
	"github.com/lex00/blobstack-go/internal/template"
	"github.com/lex00/blobstack-go/internal/topology"
	"github.com/lex00/blobstack-go/resources/apigateway"
	"github.com/lex00/blobstack-go/resources/dynamodb"
	"github.com/lex00/blobstack-go/resources/iam"
	"github.com/lex00/blobstack-go/resources/lambda"
	"github.com/lex00/blobstack-go/resources/rekognition"
	"github.com/lex00/blobstack-go/resources/s3"
)

// Result is a synthesized stack.
type Result struct {
	Template *blobstack.Template
	// Resources describes every resource and its dependencies.
	Resources map[string]blobstack.DiscoveredResource
	// Order lists logical IDs in dependency order.
	Order []string
}

type synth struct {
	topo     *topology.Topology
	resolver assets.Resolver
	b        *template.Builder
	tags     []any
}

// Synthesize validates topo and builds its template. Function code locations come
// from resolver.
func Synthesize(topo *topology.Topology, resolver assets.Resolver) (*Result, error) {
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	s := &synth{
		topo:     topo,
		resolver: resolver,
		b:        template.NewBuilder(fmt.Sprintf("%s blob-processing stack", topo.Service)),
		tags:     []any{map[string]any{"Key": "blobstack:service", "Value": topo.Service}},
	}
	steps := []func() error{
		s.table,
		s.project,
		s.roles,
		s.functions,
		s.api,
		s.bucket,
		s.streams,
		s.outputs,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	tmpl, err := s.b.Build()
	if err != nil {
		return nil, err
	}
	order, err := s.b.Order()
	if err != nil {
		return nil, err
	}
	return &Result{Template: tmpl, Resources: s.b.Discovered(), Order: order}, nil
}

func (s *synth) table() error {
	t := s.topo.Table
	table := dynamodb.Table{
		TableName:            t.Name,
		KeySchema:            []dynamodb.Table_KeySchema{{AttributeName: t.PartitionKey, KeyType: "HASH"}},
		AttributeDefinitions: []dynamodb.Table_AttributeDefinition{{AttributeName: t.PartitionKey, AttributeType: t.KeyType}},
		BillingMode:          t.BillingMode,
		StreamSpecification:  &dynamodb.Table_StreamSpecification{StreamViewType: t.StreamView},
		Tags:                 s.tags,
	}
	if t.BillingMode == "PROVISIONED" {
		table.ProvisionedThroughput = &dynamodb.Table_ProvisionedThroughput{
			ReadCapacityUnits:  t.ReadCapacity,
			WriteCapacityUnits: t.WriteCapacity,
		}
	}
	return s.b.Add(TableID, table, template.DeletionPolicy("Delete"))
}

func (s *synth) project() error {
	return s.b.Add(ProjectID, rekognition.Project{ProjectName: s.topo.Project.Name})
}

func (s *synth) roles() error {
	if s.topo.Identity == topology.Shared {
		return s.b.Add(SharedRoleID, iam.Role{
			Description:              fmt.Sprintf("Shared role of the %s blob functions", s.topo.Service),
			AssumeRolePolicyDocument: intrinsics.AssumeRoleFor("lambda.amazonaws.com"),
			ManagedPolicyArns:        intrinsics.Any(intrinsics.ManagedPolicyArn(s.topo.AdminPolicy)),
			Tags:                     s.tags,
		})
	}

	for i := range s.topo.Functions {
		fn := &s.topo.Functions[i]
		statements := make([]any, 0, len(fn.Capabilities))
		for _, stmt := range s.topo.Statements(fn) {
			statements = append(statements, stmt)
		}
		role := iam.Role{
			Description:              fmt.Sprintf("Execution role of %s", fn.Name),
			AssumeRolePolicyDocument: intrinsics.AssumeRoleFor("lambda.amazonaws.com"),
			ManagedPolicyArns:        intrinsics.Any(intrinsics.ManagedPolicyArn("service-role/AWSLambdaBasicExecutionRole")),
			Tags:                     s.tags,
		}
		if len(statements) > 0 {
			role.Policies = []iam.Role_Policy{{
				PolicyName:     fn.LogicalName + "Access",
				PolicyDocument: intrinsics.NewPolicyDocument(statements...),
			}}
		}
		if err := s.b.Add(RoleID(s.topo, fn), role); err != nil {
			return err
		}
	}
	return nil
}

func (s *synth) functions() error {
	for i := range s.topo.Functions {
		fn := &s.topo.Functions[i]
		loc, err := s.resolver.Resolve(fn)
		if err != nil {
			return fmt.Errorf("resolving code of %s: %w", fn.ID, err)
		}
		if loc.Bucket == "" || loc.Key == "" {
			return fmt.Errorf("resolving code of %s: no asset location", fn.ID)
		}

		vars := make(map[string]any, len(fn.Bindings))
		for _, b := range fn.Bindings {
			vars[b.String()] = s.bindingValue(b)
		}
		function := lambda.Function{
			FunctionName: fn.Name,
			Role:         blobstack.AttrRef{Resource: RoleID(s.topo, fn), Attribute: "Arn"},
			Runtime:      fn.Runtime,
			Handler:      fn.Handler,
			Code:         &lambda.Function_Code{S3Bucket: loc.Bucket, S3Key: loc.Key},
			Tags:         s.tags,
		}
		if len(vars) > 0 {
			function.Environment = &lambda.Function_Environment{Variables: vars}
		}
		if err := s.b.Add(FunctionID(fn), function); err != nil {
			return err
		}
	}
	return nil
}

// bindingValue is the template value injected for a binding.
func (s *synth) bindingValue(b contract.Binding) any {
	switch b {
	case contract.TableName:
		return intrinsics.Ref{LogicalName: TableID}
	case contract.BucketName:
		return s.topo.Bucket.Name
	}
	return nil
}

func (s *synth) api() error {
	routes := s.topo.Routes()
	if len(routes) == 0 {
		return nil
	}
	if err := s.b.Add(APIID, apigateway.RestApi{
		Name:        s.topo.API.Name,
		Description: fmt.Sprintf("%s blob API", s.topo.Service),
	}); err != nil {
		return err
	}

	created := map[string]bool{}
	var methods []string
	for _, rb := range routes {
		segments := rb.Route.Segments()
		var parent any = blobstack.AttrRef{Resource: APIID, Attribute: "RootResourceId"}
		for depth := range segments {
			id := ResourcePathID(segments[:depth+1])
			if !created[id] {
				if err := s.b.Add(id, apigateway.Resource{
					RestApiId: intrinsics.Ref{LogicalName: APIID},
					ParentId:  parent,
					PathPart:  segments[depth],
				}); err != nil {
					return err
				}
				created[id] = true
			}
			parent = intrinsics.Ref{LogicalName: id}
		}

		fnID := FunctionID(rb.Function)
		method := apigateway.Method{
			RestApiId:         intrinsics.Ref{LogicalName: APIID},
			ResourceId:        parent,
			HttpMethod:        rb.Route.Method,
			AuthorizationType: "NONE",
			Integration: &apigateway.Method_Integration{
				Type_:                 "AWS_PROXY",
				IntegrationHttpMethod: "POST",
				Uri:                   intrinsics.LambdaInvokeURI(fnID),
			},
		}
		if params := rb.Route.PathParameters(); len(params) > 0 {
			method.RequestParameters = make(map[string]any, len(params))
			for _, p := range params {
				method.RequestParameters["method.request.path."+p] = true
			}
		}
		methodID := MethodID(rb.Route)
		if err := s.b.Add(methodID, method); err != nil {
			return err
		}
		methods = append(methods, methodID)

		if err := s.b.Add(PermissionID(rb.Function, rb.Route), lambda.Permission{
			Action:       "lambda:InvokeFunction",
			FunctionName: blobstack.AttrRef{Resource: fnID, Attribute: "Arn"},
			Principal:    "apigateway.amazonaws.com",
			SourceArn:    intrinsics.ExecuteAPIArn(APIID, rb.Route.Method, sourcePath(rb.Route)),
		}); err != nil {
			return err
		}
	}

	if err := s.b.Add(DeploymentID, apigateway.Deployment{
		RestApiId:   intrinsics.Ref{LogicalName: APIID},
		Description: fmt.Sprintf("%s blob API deployment", s.topo.Service),
	}, template.DependsOn(methods...)); err != nil {
		return err
	}
	return s.b.Add(StageID, apigateway.Stage{
		RestApiId:    intrinsics.Ref{LogicalName: APIID},
		DeploymentId: intrinsics.Ref{LogicalName: DeploymentID},
		StageName:    s.topo.API.Stage,
	})
}

// sourcePath is the execute-api ARN path of a route, with path parameters as
// wildcards.
func sourcePath(route topology.HTTPRoute) string {
	segments := route.Segments()
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") {
			segments[i] = "*"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func (s *synth) bucket() error {
	bucket := s3.Bucket{
		BucketName: s.topo.Bucket.Name,
		PublicAccessBlockConfiguration: &s3.Bucket_PublicAccessBlockConfiguration{
			BlockPublicAcls:       true,
			BlockPublicPolicy:     true,
			IgnorePublicAcls:      true,
			RestrictPublicBuckets: true,
		},
		Tags: s.tags,
	}

	var opts []template.Option
	if s.topo.Bucket.Retain {
		opts = append(opts, template.DeletionPolicy("Retain"))
	} else {
		opts = append(opts, template.DeletionPolicy("Delete"))
	}

	if fn := s.topo.ObjectSubscriber(); fn != nil {
		permissionID := PermissionID(fn, topology.ObjectCreated{})
		if err := s.b.Add(permissionID, lambda.Permission{
			Action:        "lambda:InvokeFunction",
			FunctionName:  blobstack.AttrRef{Resource: FunctionID(fn), Attribute: "Arn"},
			Principal:     "s3.amazonaws.com",
			SourceArn:     intrinsics.BucketArn(s.topo.Bucket.Name, ""),
			SourceAccount: intrinsics.AWS_ACCOUNT_ID,
		}); err != nil {
			return err
		}
		bucket.NotificationConfiguration = &s3.Bucket_NotificationConfiguration{
			LambdaConfigurations: []s3.Bucket_LambdaConfiguration{{
				Event:    topology.ObjectCreatedEvent,
				Function: blobstack.AttrRef{Resource: FunctionID(fn), Attribute: "Arn"},
			}},
		}
		opts = append(opts, template.DependsOn(permissionID))
	}
	return s.b.Add(BucketID, bucket, opts...)
}

func (s *synth) streams() error {
	for _, sub := range s.topo.StreamSubscribers() {
		mapping := lambda.EventSourceMapping{
			FunctionName:     intrinsics.Ref{LogicalName: FunctionID(sub.Function)},
			EventSourceArn:   blobstack.AttrRef{Resource: TableID, Attribute: "StreamArn"},
			BatchSize:        sub.Events.BatchSize,
			StartingPosition: sub.Events.StartingPosition,
		}
		if pattern := sub.Events.Pattern(); pattern != "" {
			mapping.FilterCriteria = &lambda.EventSourceMapping_FilterCriteria{
				Filters: []lambda.EventSourceMapping_Filter{{Pattern: pattern}},
			}
		}
		// The stream read statements live on the function's role and must be in
		// place before the mapping polls.
		if err := s.b.Add(EventSourceMappingID(sub.Function), mapping,
			template.DependsOn(RoleID(s.topo, sub.Function))); err != nil {
			return err
		}
	}
	return nil
}

func (s *synth) outputs() error {
	export := func(name string) *blobstack.Export {
		return &blobstack.Export{Name: fmt.Sprintf("%s-%s", s.topo.Service, name)}
	}
	outputs := map[string]blobstack.Output{
		"TableName": {
			Description: "Record table name",
			Value:       intrinsics.Ref{LogicalName: TableID},
			Export:      export("table-name"),
		},
		"TableStreamArn": {
			Description: "Record table change stream",
			Value:       blobstack.AttrRef{Resource: TableID, Attribute: "StreamArn"},
			Export:      export("table-stream-arn"),
		},
		"BucketName": {
			Description: "Content bucket name",
			Value:       intrinsics.Ref{LogicalName: BucketID},
			Export:      export("bucket-name"),
		},
		"ProjectArn": {
			Description: "Image analysis project",
			Value:       blobstack.AttrRef{Resource: ProjectID, Attribute: "Arn"},
		},
	}
	if len(s.topo.Routes()) > 0 {
		outputs["ApiEndpoint"] = blobstack.Output{
			Description: "Blob API base URL",
			Value: intrinsics.Sub{String: fmt.Sprintf(
				"https://${%s}.execute-api.${AWS::Region}.${AWS::URLSuffix}/%s/", APIID, s.topo.API.Stage)},
			Export: export("api-endpoint"),
		}
	}
	for name, out := range outputs {
		if err := s.b.AddOutput(name, out); err != nil {
			return err
		}
	}
	return nil
}
