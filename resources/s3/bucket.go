// Package s3 contains CloudFormation resource types for AWS::S3.
package s3

// Bucket represents an AWS::S3::Bucket.
type Bucket struct {
	// BucketName is the physical name of the bucket.
	BucketName any `json:"BucketName,omitempty"`

	// NotificationConfiguration configures event notifications for the bucket.
	NotificationConfiguration *Bucket_NotificationConfiguration `json:"NotificationConfiguration,omitempty"`

	// PublicAccessBlockConfiguration restricts public access to the bucket.
	PublicAccessBlockConfiguration *Bucket_PublicAccessBlockConfiguration `json:"PublicAccessBlockConfiguration,omitempty"`

	// Tags are key-value pairs to categorize the bucket.
	Tags []any `json:"Tags,omitempty"`
}

// ResourceType returns the CloudFormation type for Bucket.
func (r Bucket) ResourceType() string {
	return "AWS::S3::Bucket"
}

// Bucket_NotificationConfiguration describes the bucket's event notifications.
type Bucket_NotificationConfiguration struct {
	LambdaConfigurations []Bucket_LambdaConfiguration `json:"LambdaConfigurations,omitempty"`
}

// Bucket_LambdaConfiguration invokes a function when an event occurs in the bucket.
type Bucket_LambdaConfiguration struct {
	// Event is the bucket event, e.g. "s3:ObjectCreated:*".
	Event string `json:"Event"`

	// Function is the ARN of the function to invoke.
	Function any `json:"Function"`

	// Filter restricts the notification to matching object keys.
	Filter any `json:"Filter,omitempty"`
}

// Bucket_PublicAccessBlockConfiguration blocks public access to the bucket.
type Bucket_PublicAccessBlockConfiguration struct {
	BlockPublicAcls       bool `json:"BlockPublicAcls,omitempty"`
	BlockPublicPolicy     bool `json:"BlockPublicPolicy,omitempty"`
	IgnorePublicAcls      bool `json:"IgnorePublicAcls,omitempty"`
	RestrictPublicBuckets bool `json:"RestrictPublicBuckets,omitempty"`
}
