package apigateway

// Method represents an AWS::ApiGateway::Method.
type Method struct {
	RestApiId         any                 `json:"RestApiId"`
	ResourceId        any                 `json:"ResourceId"`
	HttpMethod        string              `json:"HttpMethod"`
	AuthorizationType string              `json:"AuthorizationType,omitempty"`
	Integration       *Method_Integration `json:"Integration,omitempty"`

	// RequestParameters marks path, query and header parameters as required (true) or optional.
	RequestParameters map[string]any `json:"RequestParameters,omitempty"`
}

// ResourceType returns the CloudFormation type for Method.
func (r Method) ResourceType() string {
	return "AWS::ApiGateway::Method"
}

// Method_Integration is the backend a method forwards to.
type Method_Integration struct {
	Type_                 string `json:"Type"`
	IntegrationHttpMethod string `json:"IntegrationHttpMethod,omitempty"`
	Uri                   any    `json:"Uri,omitempty"`
}
