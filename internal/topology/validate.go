package topology

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/lex00/blobstack-go/internal/filter"
)

const (
	maxServiceLength  = 40
	maxFunctionName   = 64
	maxBucketNameSize = 63
	maxBatchSize      = 10000
)

var (
	servicePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)
	logicalPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
	httpMethods    = map[string]bool{"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true, "OPTIONS": true}
)

// ValidationError is one problem found by Validate.
type ValidationError struct {
	// Function is the offending function ID, empty for topology-wide problems.
	Function string
	Msg      string
}

func (e *ValidationError) Error() string {
	if e.Function == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Function, e.Msg)
}

// Validate checks the topology and returns every problem found. Synthesis refuses
// a topology that does not validate.
func (t *Topology) Validate() error {
	var result *multierror.Error
	fail := func(fn, format string, args ...any) {
		result = multierror.Append(result, &ValidationError{Function: fn, Msg: fmt.Sprintf(format, args...)})
	}

	if len(t.Service) > maxServiceLength || !servicePattern.MatchString(t.Service) {
		fail("", "service prefix %q must be 1-%d lowercase letters, digits or hyphens, starting with a letter",
			t.Service, maxServiceLength)
	}
	switch t.Identity {
	case LeastPrivilege:
	case Shared:
		if t.AdminPolicy == "" {
			fail("", "shared identity requires an admin policy")
		}
	default:
		fail("", "unknown identity mode %q", t.Identity)
	}
	if len(t.Bucket.Name) > maxBucketNameSize {
		fail("", "bucket name %q exceeds %d characters", t.Bucket.Name, maxBucketNameSize)
	}
	if t.Table.PartitionKey == "" {
		fail("", "table partition key is required")
	}

	ids := map[string]bool{}
	names := map[string]bool{}
	logical := map[string]bool{}
	routes := map[string]string{}
	objectTriggers := 0

	for i := range t.Functions {
		fn := &t.Functions[i]
		if fn.ID == "" {
			fail("", "function %d has no ID", i)
			continue
		}
		if ids[fn.ID] {
			fail(fn.ID, "duplicate function ID")
		}
		ids[fn.ID] = true
		if names[fn.Name] {
			fail(fn.ID, "function name %q collides with another function", fn.Name)
		}
		names[fn.Name] = true
		if len(fn.Name) == 0 || len(fn.Name) > maxFunctionName {
			fail(fn.ID, "function name %q must be 1-%d characters", fn.Name, maxFunctionName)
		}
		if !logicalPattern.MatchString(fn.LogicalName) {
			fail(fn.ID, "logical name %q must be alphanumeric", fn.LogicalName)
		} else if logical[fn.LogicalName] {
			fail(fn.ID, "logical name %q collides with another function", fn.LogicalName)
		}
		logical[fn.LogicalName] = true

		t.validateContract(fn, fail)

		streamTriggers := 0
		for _, trigger := range fn.Triggers {
			switch tr := trigger.(type) {
			case HTTPRoute:
				if !httpMethods[tr.Method] {
					fail(fn.ID, "unsupported HTTP method %q", tr.Method)
				}
				if !strings.HasPrefix(tr.Path, "/") || len(tr.Segments()) == 0 {
					fail(fn.ID, "route path %q must be absolute and non-root", tr.Path)
				}
				key := tr.Label()
				if other, ok := routes[key]; ok {
					fail(fn.ID, "route %s is already served by %s", key, other)
				} else {
					routes[key] = fn.ID
				}
			case ObjectCreated:
				objectTriggers++
			case StreamEvents:
				streamTriggers++
				if !fn.Has(TableStream) {
					fail(fn.ID, "stream trigger requires capability %s", TableStream)
				}
				if tr.BatchSize < 1 || tr.BatchSize > maxBatchSize {
					fail(fn.ID, "batch size %d must be between 1 and %d", tr.BatchSize, maxBatchSize)
				}
				if tr.StartingPosition != StartLatest && tr.StartingPosition != StartTrimHorizon {
					fail(fn.ID, "starting position %q must be %s or %s", tr.StartingPosition, StartLatest, StartTrimHorizon)
				}
				if pattern := tr.Pattern(); pattern != "" {
					if _, err := filter.Compile(pattern); err != nil {
						fail(fn.ID, "%v", err)
					}
				}
			default:
				fail(fn.ID, "unsupported trigger %T", trigger)
			}
		}
		if fn.Has(TableStream) && streamTriggers == 0 {
			fail(fn.ID, "capability %s declared without a stream trigger", TableStream)
		}
	}
	if objectTriggers > 1 {
		fail("", "%d functions subscribe to %s; the bucket supports one", objectTriggers, ObjectCreatedEvent)
	}
	return result.ErrorOrNil()
}

// validateContract checks that bindings and capabilities agree: a function bound
// to a resource must hold a capability on it, and a function holding a capability
// must be bound to the resource it names.
func (t *Topology) validateContract(fn *Function, fail func(fn, format string, args ...any)) {
	capResources := map[string]bool{}
	for _, c := range fn.Capabilities {
		if !c.Valid() {
			fail(fn.ID, "unknown capability %q", c)
			continue
		}
		capResources[c.Resource()] = true
	}
	bound := map[string]bool{}
	for _, b := range fn.Bindings {
		res := bindingResource(b)
		if res == "" {
			fail(fn.ID, "unknown binding %s", b)
			continue
		}
		bound[res] = true
		if !capResources[res] {
			fail(fn.ID, "binding %s has no %s capability", b, res)
		}
	}
	var missing []string
	for res := range capResources {
		if !bound[res] {
			missing = append(missing, res)
		}
	}
	sort.Strings(missing)
	for _, res := range missing {
		fail(fn.ID, "%s capability declared without a %s binding", res, res)
	}
}
