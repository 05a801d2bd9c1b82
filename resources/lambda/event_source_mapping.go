package lambda

// EventSourceMapping represents an AWS::Lambda::EventSourceMapping.
type EventSourceMapping struct {
	// FunctionName is the name or ARN of the function.
	FunctionName any `json:"FunctionName"`

	// EventSourceArn is the ARN of the stream or queue.
	EventSourceArn any `json:"EventSourceArn"`

	// BatchSize is the maximum number of records per invocation.
	BatchSize int `json:"BatchSize,omitempty"`

	// StartingPosition is LATEST, TRIM_HORIZON or AT_TIMESTAMP.
	StartingPosition string `json:"StartingPosition,omitempty"`

	// FilterCriteria restricts which records invoke the function.
	FilterCriteria *EventSourceMapping_FilterCriteria `json:"FilterCriteria,omitempty"`

	// MaximumRetryAttempts bounds retries; unset means retry until the record expires.
	MaximumRetryAttempts *int `json:"MaximumRetryAttempts,omitempty"`

	// DestinationConfig routes discarded records.
	DestinationConfig any `json:"DestinationConfig,omitempty"`
}

// ResourceType returns the CloudFormation type for EventSourceMapping.
func (r EventSourceMapping) ResourceType() string {
	return "AWS::Lambda::EventSourceMapping"
}

// EventSourceMapping_FilterCriteria holds up to five filters.
type EventSourceMapping_FilterCriteria struct {
	Filters []EventSourceMapping_Filter `json:"Filters,omitempty"`
}

// EventSourceMapping_Filter is one filter pattern, encoded as a JSON string.
type EventSourceMapping_Filter struct {
	Pattern string `json:"Pattern"`
}
