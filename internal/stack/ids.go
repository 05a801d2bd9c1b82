package stack

import (
	"strings"
	"unicode"

	"github.com/lex00/blobstack-go/internal/topology"
)

// Logical IDs of the shared resources.
const (
	TableID      = "BlobsTable"
	BucketID     = "BlobsBucket"
	ProjectID    = "BlobsProject"
	APIID        = "BlobsApi"
	DeploymentID = "BlobsApiDeployment"
	StageID      = "BlobsApiStage"
	SharedRoleID = "BlobsSharedRole"
)

// FunctionID returns the logical ID of a function.
func FunctionID(fn *topology.Function) string {
	return fn.LogicalName + "Function"
}

// RoleID returns the logical ID of the role a function runs as.
func RoleID(topo *topology.Topology, fn *topology.Function) string {
	if topo.Identity == topology.Shared {
		return SharedRoleID
	}
	return fn.LogicalName + "Role"
}

// ResourcePathID returns the logical ID of the gateway resource for a path prefix:
// ["blobs", "{blob_id}"] becomes BlobsApiBlobsBlobIdResource.
func ResourcePathID(segments []string) string {
	var sb strings.Builder
	sb.WriteString(APIID)
	for _, seg := range segments {
		sb.WriteString(pascal(strings.Trim(seg, "{}")))
	}
	sb.WriteString("Resource")
	return sb.String()
}

// MethodID returns the logical ID of a gateway method.
func MethodID(route topology.HTTPRoute) string {
	return strings.TrimSuffix(ResourcePathID(route.Segments()), "Resource") + pascal(strings.ToLower(route.Method)) + "Method"
}

// PermissionID returns the logical ID of the invoke permission a trigger needs.
func PermissionID(fn *topology.Function, trigger topology.Trigger) string {
	switch t := trigger.(type) {
	case topology.HTTPRoute:
		return fn.LogicalName + pascal(strings.ToLower(t.Method)) + "ApiPermission"
	case topology.ObjectCreated:
		return fn.LogicalName + "BucketPermission"
	}
	return ""
}

// EventSourceMappingID returns the logical ID of a stream mapping.
func EventSourceMappingID(fn *topology.Function) string {
	return "TableTo" + fn.LogicalName + "EventSourceMapping"
}

// SourceID returns the logical ID of the resource that emits a trigger kind.
func SourceID(kind topology.TriggerKind) string {
	switch kind {
	case topology.KindHTTP:
		return APIID
	case topology.KindObject:
		return BucketID
	case topology.KindStream:
		return TableID
	}
	return ""
}

// pascal converts snake_case or kebab-case to PascalCase.
func pascal(s string) string {
	var sb strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' || r == '-' {
			upper = true
			continue
		}
		if upper {
			sb.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
