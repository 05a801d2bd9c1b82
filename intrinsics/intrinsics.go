// Package intrinsics provides the CloudFormation intrinsic functions used by the
// blob topology.
//
// The core types are re-exported from cloudformation-schema-go:
//
//	Ref{LogicalName: "BlobsTable"} → {"Ref": "BlobsTable"}
//	Sub{String: "${AWS::StackName}-api"} → {"Fn::Sub": "${AWS::StackName}-api"}
//	Join{Delimiter: "", Values: []any{"a", "b"}} → {"Fn::Join": ["", ["a", "b"]]}
package intrinsics

import (
	"fmt"

	"github.com/lex00/cloudformation-schema-go/intrinsics"
)

type (
	// Ref represents a CloudFormation Ref intrinsic function.
	Ref = intrinsics.Ref

	// GetAtt represents a CloudFormation Fn::GetAtt intrinsic function.
	GetAtt = intrinsics.GetAtt

	// Sub represents a CloudFormation Fn::Sub intrinsic function.
	Sub = intrinsics.Sub

	// Join represents a CloudFormation Fn::Join intrinsic function.
	Join = intrinsics.Join
)

// Pseudo-parameters resolved by CloudFormation for the current stack.
var (
	AWS_ACCOUNT_ID = intrinsics.AWS_ACCOUNT_ID
	AWS_PARTITION  = intrinsics.AWS_PARTITION
	AWS_REGION     = intrinsics.AWS_REGION
	AWS_STACK_NAME = intrinsics.AWS_STACK_NAME
	AWS_URL_SUFFIX = intrinsics.AWS_URL_SUFFIX
)

// ManagedPolicyArn returns the partition-aware ARN of an AWS managed policy.
//
//	ManagedPolicyArn("AdministratorAccess")
//	→ {"Fn::Sub": "arn:${AWS::Partition}:iam::aws:policy/AdministratorAccess"}
func ManagedPolicyArn(name string) Sub {
	return Sub{String: fmt.Sprintf("arn:${AWS::Partition}:iam::aws:policy/%s", name)}
}

// BucketArn returns the ARN of a bucket by name, optionally with an object path
// suffix such as "/*". It never references the bucket resource, so it can be used
// by resources the bucket itself depends on.
func BucketArn(bucketName, suffix string) Sub {
	return Sub{String: fmt.Sprintf("arn:${AWS::Partition}:s3:::%s%s", bucketName, suffix)}
}

// LambdaInvokeURI returns the API Gateway integration URI for a function's Arn
// attribute.
func LambdaInvokeURI(functionLogicalName string) Sub {
	return Sub{String: fmt.Sprintf(
		"arn:${AWS::Partition}:apigateway:${AWS::Region}:lambda:path/2015-03-31/functions/${%s.Arn}/invocations",
		functionLogicalName,
	)}
}

// ExecuteAPIArn returns the execute-api source ARN for one method and path of a
// REST API, e.g. ExecuteAPIArn("BlobsApi", "POST", "/blobs").
func ExecuteAPIArn(apiLogicalName, method, path string) Sub {
	return Sub{String: fmt.Sprintf(
		"arn:${AWS::Partition}:execute-api:${AWS::Region}:${AWS::AccountId}:${%s}/*/%s%s",
		apiLogicalName, method, path,
	)}
}
