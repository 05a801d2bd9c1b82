// Package topology is the typed model of the blob-processing system: the shared
// resources, the four functions, what each function may touch and what invokes it.
//
// Synthesis, linting, graph rendering and the local runtime all work from a
// Topology, so the event wiring is declared once.
package topology

import (
	"errors"
	"fmt"
	"path"

	"github.com/lex00/blobstack-go/contract"
	"github.com/lex00/blobstack-go/internal/config"
	"github.com/lex00/blobstack-go/internal/serialize"
)

// ErrUnknownFunction is returned when a function ID is not part of the topology.
var ErrUnknownFunction = errors.New("unknown function")

// Function IDs.
const (
	CreateBlob   = "create_blob"
	ProcessBlob  = "process_blob"
	GetBlob      = "get_blob"
	MakeCallback = "make_callback"
)

// IdentityMode selects how functions are granted access.
type IdentityMode string

const (
	// LeastPrivilege gives every function its own role, scoped to its capabilities.
	LeastPrivilege IdentityMode = config.IdentityLeastPrivilege
	// Shared gives all functions one role with an administrative managed policy.
	Shared IdentityMode = config.IdentityShared
)

// Table is the record table.
type Table struct {
	Name         string
	PartitionKey string
	KeyType      string
	StreamView   string
	BillingMode  string
	ReadCapacity int
	// WriteCapacity applies with PROVISIONED billing only, as ReadCapacity.
	WriteCapacity int
}

// Bucket is the content store.
type Bucket struct {
	Name string
	// Retain keeps the bucket when the stack is deleted.
	Retain bool
}

// Project is the image-analysis project. No function is wired to it.
type Project struct {
	Name string
}

// API is the HTTP gateway.
type API struct {
	Name  string
	Stage string
}

// Function is one of the four blob functions.
type Function struct {
	// ID is the stable identifier (create_blob).
	ID string
	// LogicalName prefixes the function's logical IDs (CreateBlob).
	LogicalName string
	// Name is the physical function name.
	Name         string
	Asset        string
	Runtime      string
	Handler      string
	Bindings     []contract.Binding
	Capabilities []Capability
	Triggers     []Trigger
}

// Has reports whether the function declares capability c.
func (f *Function) Has(c Capability) bool {
	for _, have := range f.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Binds reports whether the function receives binding b.
func (f *Function) Binds(b contract.Binding) bool {
	for _, have := range f.Bindings {
		if have == b {
			return true
		}
	}
	return false
}

// Topology is the complete system.
type Topology struct {
	Service     string
	Identity    IdentityMode
	AdminPolicy string
	Table       Table
	Bucket      Bucket
	Project     Project
	API         API
	Functions   []Function
}

// Blobs builds the blob-processing topology from cfg. Every physical name is
// derived from cfg.Service; function names also carry cfg.FunctionInfix.
func Blobs(cfg *config.Config) *Topology {
	svc := cfg.Service
	prefix := svc
	if cfg.FunctionInfix != "" {
		prefix = svc + "-" + cfg.FunctionInfix
	}
	fn := func(c contract.FunctionContract, name, asset string, caps []Capability, triggers ...Trigger) Function {
		return Function{
			ID:           c.ID,
			LogicalName:  serialize.ToPascalCase(c.ID),
			Name:         fmt.Sprintf("%s-%s", prefix, name),
			Asset:        path.Join(cfg.SourceDir, asset),
			Runtime:      cfg.Runtime,
			Handler:      cfg.Handler,
			Bindings:     append([]contract.Binding(nil), c.Bindings...),
			Capabilities: caps,
			Triggers:     triggers,
		}
	}

	return &Topology{
		Service:     svc,
		Identity:    IdentityMode(cfg.Identity),
		AdminPolicy: cfg.AdminPolicy,
		Table: Table{
			Name:          svc + "-blobs",
			PartitionKey:  "blob_id",
			KeyType:       "S",
			StreamView:    "NEW_AND_OLD_IMAGES",
			BillingMode:   "PROVISIONED",
			ReadCapacity:  5,
			WriteCapacity: 5,
		},
		Bucket: Bucket{
			Name:   svc + "-blobs-bucket",
			Retain: cfg.Bucket.RemovalPolicy != config.RemovalDestroy,
		},
		Project: Project{Name: svc + "-blobs-project"},
		API:     API{Name: svc + "-blobs-api", Stage: "prod"},
		Functions: []Function{
			fn(contract.CreateBlob, "create-blob", "createBlob",
				[]Capability{TableWrite, BucketWrite},
				HTTPRoute{Method: "POST", Path: "/blobs"}),
			fn(contract.ProcessBlob, "process-blob", "processBlob",
				[]Capability{TableWrite, BucketRead},
				ObjectCreated{}),
			fn(contract.GetBlob, "get-blob", "getBlob",
				[]Capability{TableRead},
				HTTPRoute{Method: "GET", Path: "/blobs/{blob_id}"}),
			fn(contract.MakeCallback, "make-callback", "makeCallback",
				[]Capability{TableStream, TableRead},
				StreamEvents{EventNames: []string{"MODIFY"}, BatchSize: 1, StartingPosition: StartLatest}),
		},
	}
}

// Function returns the function with the given ID.
func (t *Topology) Function(id string) (*Function, error) {
	for i := range t.Functions {
		if t.Functions[i].ID == id {
			return &t.Functions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, id)
}

// BindingValue returns the physical resource name carried by a binding.
func (t *Topology) BindingValue(b contract.Binding) string {
	switch b {
	case contract.TableName:
		return t.Table.Name
	case contract.BucketName:
		return t.Bucket.Name
	}
	return ""
}

// Env returns the resolved bindings of a function.
func (t *Topology) Env(fn *Function) contract.Env {
	values := make(map[contract.Binding]string, len(fn.Bindings))
	for _, b := range fn.Bindings {
		values[b] = t.BindingValue(b)
	}
	return contract.NewEnv(values)
}
