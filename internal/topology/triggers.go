package topology

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TriggerKind identifies the event source of a trigger.
type TriggerKind string

const (
	KindHTTP   TriggerKind = "http"
	KindObject TriggerKind = "object"
	KindStream TriggerKind = "stream"
)

// Stream starting positions.
const (
	StartLatest      = "LATEST"
	StartTrimHorizon = "TRIM_HORIZON"
)

// ObjectCreatedEvent is the notification event for every object-created variant.
const ObjectCreatedEvent = "s3:ObjectCreated:*"

// Trigger is something that invokes a function.
type Trigger interface {
	Kind() TriggerKind
	// Label describes the trigger on graph edges.
	Label() string
}

// HTTPRoute invokes a function through the gateway's proxy integration.
type HTTPRoute struct {
	Method string
	Path   string
}

func (r HTTPRoute) Kind() TriggerKind { return KindHTTP }
func (r HTTPRoute) Label() string     { return r.Method + " " + r.Path }

// Segments splits the path into its resource parts ("blobs", "{blob_id}").
func (r HTTPRoute) Segments() []string {
	trimmed := strings.Trim(r.Path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// PathParameters returns the names of the {param} segments.
func (r HTTPRoute) PathParameters() []string {
	var out []string
	for _, seg := range r.Segments() {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}"))
		}
	}
	return out
}

// ObjectCreated invokes a function asynchronously for each object written to the
// content bucket.
type ObjectCreated struct{}

func (ObjectCreated) Kind() TriggerKind { return KindObject }
func (ObjectCreated) Label() string     { return ObjectCreatedEvent }

// StreamEvents invokes a function from the record table's change stream.
type StreamEvents struct {
	// EventNames restricts delivery to these stream event names (MODIFY).
	EventNames       []string
	BatchSize        int
	StartingPosition string
}

func (s StreamEvents) Kind() TriggerKind { return KindStream }

func (s StreamEvents) Label() string {
	return fmt.Sprintf("%s (batch %d)", strings.Join(s.EventNames, "|"), s.BatchSize)
}

// Pattern returns the event filter pattern for the event names, or "" when every
// event is delivered. It is laid out like the deployed pattern:
// {"eventName": ["MODIFY"]}.
func (s StreamEvents) Pattern() string {
	if len(s.EventNames) == 0 {
		return ""
	}
	names := make([]string, len(s.EventNames))
	for i, name := range s.EventNames {
		data, _ := json.Marshal(name)
		names[i] = string(data)
	}
	return `{"eventName": [` + strings.Join(names, ", ") + `]}`
}
