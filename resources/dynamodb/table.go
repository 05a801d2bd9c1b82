// Package dynamodb contains CloudFormation resource types for AWS::DynamoDB.
package dynamodb

// Table represents an AWS::DynamoDB::Table.
type Table struct {
	// TableName is the physical name of the table.
	TableName any `json:"TableName,omitempty"`

	// KeySchema specifies the attributes that make up the primary key.
	KeySchema []Table_KeySchema `json:"KeySchema,omitempty"`

	// AttributeDefinitions describe the key attributes.
	AttributeDefinitions []Table_AttributeDefinition `json:"AttributeDefinitions,omitempty"`

	// BillingMode is PROVISIONED or PAY_PER_REQUEST.
	BillingMode string `json:"BillingMode,omitempty"`

	// ProvisionedThroughput is required for PROVISIONED billing.
	ProvisionedThroughput *Table_ProvisionedThroughput `json:"ProvisionedThroughput,omitempty"`

	// StreamSpecification enables the change stream.
	StreamSpecification *Table_StreamSpecification `json:"StreamSpecification,omitempty"`

	// Tags are key-value pairs to categorize the table.
	Tags []any `json:"Tags,omitempty"`
}

// ResourceType returns the CloudFormation type for Table.
func (r Table) ResourceType() string {
	return "AWS::DynamoDB::Table"
}

// Table_KeySchema is one element of the primary key.
type Table_KeySchema struct {
	AttributeName string `json:"AttributeName"`
	KeyType       string `json:"KeyType"`
}

// Table_AttributeDefinition declares a key attribute and its type.
type Table_AttributeDefinition struct {
	AttributeName string `json:"AttributeName"`
	AttributeType string `json:"AttributeType"`
}

// Table_ProvisionedThroughput sets read and write capacity.
type Table_ProvisionedThroughput struct {
	ReadCapacityUnits  int `json:"ReadCapacityUnits"`
	WriteCapacityUnits int `json:"WriteCapacityUnits"`
}

// Table_StreamSpecification selects what the change stream captures.
type Table_StreamSpecification struct {
	// StreamViewType is KEYS_ONLY, NEW_IMAGE, OLD_IMAGE or NEW_AND_OLD_IMAGES.
	StreamViewType string `json:"StreamViewType"`
}
