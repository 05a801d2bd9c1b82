package lambda

// Permission represents an AWS::Lambda::Permission.
type Permission struct {
	// Action is the action the principal can use, usually "lambda:InvokeFunction".
	Action string `json:"Action"`

	// FunctionName is the name or ARN of the function.
	FunctionName any `json:"FunctionName"`

	// Principal is the service or account that invokes the function.
	Principal string `json:"Principal"`

	// SourceArn limits the permission to one source resource.
	SourceArn any `json:"SourceArn,omitempty"`

	// SourceAccount limits the permission to one account.
	SourceAccount any `json:"SourceAccount,omitempty"`
}

// ResourceType returns the CloudFormation type for Permission.
func (r Permission) ResourceType() string {
	return "AWS::Lambda::Permission"
}
