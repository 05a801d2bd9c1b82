package apigateway

// Deployment represents an AWS::ApiGateway::Deployment.
type Deployment struct {
	RestApiId   any    `json:"RestApiId"`
	Description string `json:"Description,omitempty"`
}

// ResourceType returns the CloudFormation type for Deployment.
func (r Deployment) ResourceType() string {
	return "AWS::ApiGateway::Deployment"
}

// Stage represents an AWS::ApiGateway::Stage.
type Stage struct {
	RestApiId    any    `json:"RestApiId"`
	DeploymentId any    `json:"DeploymentId"`
	StageName    string `json:"StageName"`
}

// ResourceType returns the CloudFormation type for Stage.
func (r Stage) ResourceType() string {
	return "AWS::ApiGateway::Stage"
}
