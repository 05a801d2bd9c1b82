// Package iam contains CloudFormation resource types for AWS::IAM.
package iam

// Role represents an AWS::IAM::Role.
type Role struct {
	// RoleName is the physical name of the role.
	RoleName any `json:"RoleName,omitempty"`

	// Description is a description of the role.
	Description string `json:"Description,omitempty"`

	// AssumeRolePolicyDocument is the trust policy that grants an entity permission to assume the role.
	AssumeRolePolicyDocument any `json:"AssumeRolePolicyDocument,omitempty"`

	// ManagedPolicyArns are the ARNs of managed policies attached to the role.
	ManagedPolicyArns []any `json:"ManagedPolicyArns,omitempty"`

	// Policies are inline policies embedded in the role.
	Policies []Role_Policy `json:"Policies,omitempty"`

	// Path is the path to the role.
	Path string `json:"Path,omitempty"`

	// Tags are key-value pairs to categorize the role.
	Tags []any `json:"Tags,omitempty"`
}

// ResourceType returns the CloudFormation type for Role.
func (r Role) ResourceType() string {
	return "AWS::IAM::Role"
}

// Role_Policy is an inline policy embedded in a role.
type Role_Policy struct {
	PolicyName     any `json:"PolicyName,omitempty"`
	PolicyDocument any `json:"PolicyDocument,omitempty"`
}
