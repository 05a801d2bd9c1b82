// Package lambda contains CloudFormation resource types for AWS::Lambda.
package lambda

// Function represents an AWS::Lambda::Function.
type Function struct {
	// FunctionName is the physical name of the function.
	FunctionName any `json:"FunctionName,omitempty"`

	// Description is a description of the function.
	Description string `json:"Description,omitempty"`

	// Role is the ARN of the execution role.
	Role any `json:"Role,omitempty"`

	// Runtime is the identifier of the runtime, e.g. "python3.12".
	Runtime string `json:"Runtime,omitempty"`

	// Handler is the method that the runtime invokes.
	Handler string `json:"Handler,omitempty"`

	// Code is the deployment package.
	Code *Function_Code `json:"Code,omitempty"`

	// Environment holds the environment variables injected at deployment.
	Environment *Function_Environment `json:"Environment,omitempty"`

	// Timeout is the execution time limit in seconds.
	Timeout int `json:"Timeout,omitempty"`

	// MemorySize is the memory available to the function in MB.
	MemorySize int `json:"MemorySize,omitempty"`

	// Tags are key-value pairs to categorize the function.
	Tags []any `json:"Tags,omitempty"`
}

// ResourceType returns the CloudFormation type for Function.
func (r Function) ResourceType() string {
	return "AWS::Lambda::Function"
}

// Function_Code locates the deployment package.
type Function_Code struct {
	S3Bucket any    `json:"S3Bucket,omitempty"`
	S3Key    any    `json:"S3Key,omitempty"`
	ZipFile  string `json:"ZipFile,omitempty"`
}

// Function_Environment holds a function's environment variables.
type Function_Environment struct {
	Variables map[string]any `json:"Variables,omitempty"`
}
