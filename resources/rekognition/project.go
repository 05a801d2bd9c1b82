// Package rekognition contains CloudFormation resource types for AWS::Rekognition.
package rekognition

// Project represents an AWS::Rekognition::Project.
type Project struct {
	// ProjectName is the name of the project.
	ProjectName any `json:"ProjectName,omitempty"`
}

// ResourceType returns the CloudFormation type for Project.
func (r Project) ResourceType() string {
	return "AWS::Rekognition::Project"
}
