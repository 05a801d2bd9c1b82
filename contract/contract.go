// Package contract is the handler side of the configuration contract between the
// blob topology and its four functions.
//
// The topology injects resource names into each function through environment
// bindings. A handler loads exactly the bindings its FunctionContract declares:
//
//	env, err := contract.ProcessBlob.Load()
//	if err != nil {
//	    return err
//	}
//	table := env.TableName()
//
// A missing binding is reported at cold start instead of surfacing later as an
// empty resource name.
package contract

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// Binding is the name of an environment variable the topology injects.
type Binding string

const (
	// TableName carries the physical name of the record table.
	TableName Binding = "TABLE_NAME"
	// BucketName carries the physical name of the content bucket.
	BucketName Binding = "BUCKET_NAME"
)

func (b Binding) String() string {
	return string(b)
}

// MissingBindingError reports a binding that was declared but not present.
type MissingBindingError struct {
	Binding Binding
}

func (e *MissingBindingError) Error() string {
	return fmt.Sprintf("missing environment binding %s", e.Binding)
}

// Env is the set of resolved bindings for one function.
type Env struct {
	values map[Binding]string
}

// NewEnv builds an Env from already-resolved values.
func NewEnv(values map[Binding]string) Env {
	copied := make(map[Binding]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Env{values: copied}
}

// Get returns the value of a binding.
func (e Env) Get(b Binding) (string, bool) {
	v, ok := e.values[b]
	return v, ok
}

// TableName returns the record table name, or "" when the binding is absent.
func (e Env) TableName() string {
	return e.values[TableName]
}

// BucketName returns the content bucket name, or "" when the binding is absent.
func (e Env) BucketName() string {
	return e.values[BucketName]
}

// Bindings returns the bound names in sorted order.
func (e Env) Bindings() []Binding {
	out := make([]Binding, 0, len(e.values))
	for b := range e.values {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Variables returns the bindings as environment variables.
func (e Env) Variables() map[string]string {
	out := make(map[string]string, len(e.values))
	for b, v := range e.values {
		out[string(b)] = v
	}
	return out
}

// Load resolves the required bindings through lookup. Every missing or empty
// binding is reported.
func Load(lookup func(string) (string, bool), required ...Binding) (Env, error) {
	var result *multierror.Error
	values := make(map[Binding]string, len(required))
	for _, b := range required {
		v, ok := lookup(string(b))
		if !ok || v == "" {
			result = multierror.Append(result, &MissingBindingError{Binding: b})
			continue
		}
		values[b] = v
	}
	if err := result.ErrorOrNil(); err != nil {
		return Env{}, err
	}
	return Env{values: values}, nil
}

// FromEnviron resolves the required bindings from the process environment.
func FromEnviron(required ...Binding) (Env, error) {
	return Load(os.LookupEnv, required...)
}

type envKey struct{}

// WithEnv attaches a function's bindings to ctx. The local runtime uses it in place
// of process environment variables.
func WithEnv(ctx context.Context, env Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// EnvFrom returns the bindings attached by WithEnv.
func EnvFrom(ctx context.Context) (Env, bool) {
	env, ok := ctx.Value(envKey{}).(Env)
	return env, ok
}
