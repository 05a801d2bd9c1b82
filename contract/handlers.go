package contract

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
)

// APIHandler serves one gateway route through the Lambda proxy integration.
type APIHandler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// ObjectCreatedHandler receives object-created notifications from the content
// bucket. Delivery is asynchronous, at least once and unordered.
type ObjectCreatedHandler func(ctx context.Context, event events.S3Event) error

// StreamHandler receives record table changes. The mapping delivers exactly one
// MODIFY record per invocation, with both the old and new images. Records for the
// same blob_id arrive in mutation order. A returned error makes the platform retry
// the same record.
type StreamHandler func(ctx context.Context, event events.DynamoDBEvent) error

// FunctionContract is what a function may assume about its deployment: the
// bindings it receives.
type FunctionContract struct {
	ID       string
	Bindings []Binding
}

// Load resolves the contract's bindings from the process environment.
func (c FunctionContract) Load() (Env, error) {
	return FromEnviron(c.Bindings...)
}

// Requires reports whether b is part of the contract.
func (c FunctionContract) Requires(b Binding) bool {
	for _, have := range c.Bindings {
		if have == b {
			return true
		}
	}
	return false
}

// Contracts of the four blob functions.
var (
	CreateBlob   = FunctionContract{ID: "create_blob", Bindings: []Binding{TableName, BucketName}}
	ProcessBlob  = FunctionContract{ID: "process_blob", Bindings: []Binding{TableName, BucketName}}
	GetBlob      = FunctionContract{ID: "get_blob", Bindings: []Binding{TableName}}
	MakeCallback = FunctionContract{ID: "make_callback", Bindings: []Binding{TableName}}
)

// All returns the four function contracts in declaration order.
func All() []FunctionContract {
	return []FunctionContract{CreateBlob, ProcessBlob, GetBlob, MakeCallback}
}
