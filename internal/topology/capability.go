package topology

import (
	"fmt"
	"strings"

	"github.com/lex00/blobstack-go/contract"
	"github.com/lex00/blobstack-go/intrinsics"
)

// Capability is an access right a function declares on a shared resource.
type Capability string

const (
	TableRead   Capability = "table:read"
	TableWrite  Capability = "table:write"
	TableStream Capability = "table:stream"
	BucketRead  Capability = "bucket:read"
	BucketWrite Capability = "bucket:write"
)

// Resource kinds a capability applies to.
const (
	ResourceTable  = "table"
	ResourceBucket = "bucket"
)

// Resource returns the resource kind the capability applies to.
func (c Capability) Resource() string {
	res, _, _ := strings.Cut(string(c), ":")
	return res
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case TableRead, TableWrite, TableStream, BucketRead, BucketWrite:
		return true
	}
	return false
}

// bindingResource is the resource kind a binding names.
func bindingResource(b contract.Binding) string {
	switch b {
	case contract.TableName:
		return ResourceTable
	case contract.BucketName:
		return ResourceBucket
	}
	return ""
}

// TableArn returns the ARN of the record table.
func (t *Topology) TableArn() intrinsics.Sub {
	return intrinsics.Sub{String: fmt.Sprintf(
		"arn:${AWS::Partition}:dynamodb:${AWS::Region}:${AWS::AccountId}:table/%s", t.Table.Name)}
}

// TableStreamArn returns the ARN pattern matching every stream of the table.
func (t *Topology) TableStreamArn() intrinsics.Sub {
	return intrinsics.Sub{String: fmt.Sprintf(
		"arn:${AWS::Partition}:dynamodb:${AWS::Region}:${AWS::AccountId}:table/%s/stream/*", t.Table.Name)}
}

// Statements derives the IAM statements a function needs from its capabilities,
// in capability order.
func (t *Topology) Statements(fn *Function) []intrinsics.PolicyStatement {
	var out []intrinsics.PolicyStatement
	for _, c := range fn.Capabilities {
		switch c {
		case TableRead:
			out = append(out, intrinsics.PolicyStatement{
				Sid:    "TableRead",
				Effect: "Allow",
				Action: intrinsics.Any(
					"dynamodb:BatchGetItem",
					"dynamodb:ConditionCheckItem",
					"dynamodb:DescribeTable",
					"dynamodb:GetItem",
					"dynamodb:Query",
					"dynamodb:Scan",
				),
				Resource: t.TableArn(),
			})
		case TableWrite:
			out = append(out, intrinsics.PolicyStatement{
				Sid:    "TableWrite",
				Effect: "Allow",
				Action: intrinsics.Any(
					"dynamodb:BatchWriteItem",
					"dynamodb:DeleteItem",
					"dynamodb:PutItem",
					"dynamodb:UpdateItem",
				),
				Resource: t.TableArn(),
			})
		case TableStream:
			out = append(out, intrinsics.PolicyStatement{
				Sid:    "TableStream",
				Effect: "Allow",
				Action: intrinsics.Any(
					"dynamodb:DescribeStream",
					"dynamodb:GetRecords",
					"dynamodb:GetShardIterator",
					"dynamodb:ListStreams",
				),
				Resource: t.TableStreamArn(),
			})
		case BucketRead:
			out = append(out, intrinsics.PolicyStatement{
				Sid:      "BucketRead",
				Effect:   "Allow",
				Action:   intrinsics.Any("s3:GetObject", "s3:ListBucket"),
				Resource: intrinsics.Any(intrinsics.BucketArn(t.Bucket.Name, ""), intrinsics.BucketArn(t.Bucket.Name, "/*")),
			})
		case BucketWrite:
			out = append(out, intrinsics.PolicyStatement{
				Sid:      "BucketWrite",
				Effect:   "Allow",
				Action:   intrinsics.Any("s3:AbortMultipartUpload", "s3:DeleteObject", "s3:PutObject"),
				Resource: intrinsics.BucketArn(t.Bucket.Name, "/*"),
			})
		}
	}
	return out
}
