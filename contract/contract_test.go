package contract

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoad(t *testing.T) {
	env, err := Load(lookupFrom(map[string]string{
		"TABLE_NAME":  "svc-blobs",
		"BUCKET_NAME": "svc-blobs-bucket",
		"OTHER":       "ignored",
	}), TableName, BucketName)
	require.NoError(t, err)

	assert.Equal(t, "svc-blobs", env.TableName())
	assert.Equal(t, "svc-blobs-bucket", env.BucketName())
	assert.Equal(t, []Binding{BucketName, TableName}, env.Bindings())
	assert.Equal(t, map[string]string{
		"TABLE_NAME":  "svc-blobs",
		"BUCKET_NAME": "svc-blobs-bucket",
	}, env.Variables())
}

func TestLoad_MissingBindings(t *testing.T) {
	_, err := Load(lookupFrom(map[string]string{"TABLE_NAME": ""}), TableName, BucketName)
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)

	var missing *MissingBindingError
	require.True(t, errors.As(merr.Errors[0], &missing))
	assert.Equal(t, TableName, missing.Binding)
	assert.Contains(t, err.Error(), "BUCKET_NAME")
}

func TestLoad_OnlyDeclaredBindings(t *testing.T) {
	env, err := Load(lookupFrom(map[string]string{
		"TABLE_NAME":  "svc-blobs",
		"BUCKET_NAME": "svc-blobs-bucket",
	}), GetBlob.Bindings...)
	require.NoError(t, err)

	_, ok := env.Get(BucketName)
	assert.False(t, ok)
	assert.Empty(t, env.BucketName())
}

func TestFromEnviron(t *testing.T) {
	t.Setenv("TABLE_NAME", "svc-blobs")

	env, err := MakeCallback.Load()
	require.NoError(t, err)
	assert.Equal(t, "svc-blobs", env.TableName())
}

func TestContextEnv(t *testing.T) {
	_, ok := EnvFrom(context.Background())
	assert.False(t, ok)

	env := NewEnv(map[Binding]string{TableName: "svc-blobs"})
	ctx := WithEnv(context.Background(), env)

	got, ok := EnvFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "svc-blobs", got.TableName())
}

func TestContracts(t *testing.T) {
	tests := []struct {
		contract FunctionContract
		table    bool
		bucket   bool
	}{
		{CreateBlob, true, true},
		{ProcessBlob, true, true},
		{GetBlob, true, false},
		{MakeCallback, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.contract.ID, func(t *testing.T) {
			assert.Equal(t, tt.table, tt.contract.Requires(TableName))
			assert.Equal(t, tt.bucket, tt.contract.Requires(BucketName))
		})
	}
	assert.Len(t, All(), 4)
}
