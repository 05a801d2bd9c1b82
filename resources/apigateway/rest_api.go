// Package apigateway contains CloudFormation resource types for AWS::ApiGateway.
package apigateway

// RestApi represents an AWS::ApiGateway::RestApi.
type RestApi struct {
	// Name is the name of the API.
	Name any `json:"Name,omitempty"`

	// Description is a description of the API.
	Description string `json:"Description,omitempty"`

	// EndpointConfiguration selects EDGE, REGIONAL or PRIVATE endpoints.
	EndpointConfiguration *RestApi_EndpointConfiguration `json:"EndpointConfiguration,omitempty"`
}

// ResourceType returns the CloudFormation type for RestApi.
func (r RestApi) ResourceType() string {
	return "AWS::ApiGateway::RestApi"
}

// RestApi_EndpointConfiguration lists the endpoint types of the API.
type RestApi_EndpointConfiguration struct {
	Types []string `json:"Types,omitempty"`
}

// Resource represents an AWS::ApiGateway::Resource (one path segment).
type Resource struct {
	RestApiId any    `json:"RestApiId"`
	ParentId  any    `json:"ParentId"`
	PathPart  string `json:"PathPart"`
}

// ResourceType returns the CloudFormation type for Resource.
func (r Resource) ResourceType() string {
	return "AWS::ApiGateway::Resource"
}
