package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Default()

	assert.Equal(t, "blobs", cfg.Service)
	assert.Equal(t, "blobs", cfg.StackName)
	assert.Equal(t, IdentityShared, cfg.Identity)
	assert.Equal(t, "AdministratorAccess", cfg.AdminPolicy)
	assert.Equal(t, "cdk", cfg.FunctionInfix)
	assert.Equal(t, "python3.12", cfg.Runtime)
	assert.Equal(t, "index.handler", cfg.Handler)
	assert.Equal(t, RemovalRetain, cfg.Bucket.RemovalPolicy)
	assert.Equal(t, "blobs-assets", cfg.Assets.Bucket)
	assert.Contains(t, cfg.Assets.Excludes, "**/*.pyc")
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blobstack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service: media
identity: least-privilege
assets:
  bucket: media-artifacts
bucket:
  removal_policy: destroy
log:
  level: debug
`), 0o644))

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)

	assert.Equal(t, "media", cfg.Service)
	assert.Equal(t, "media", cfg.StackName)
	assert.Equal(t, IdentityLeastPrivilege, cfg.Identity)
	assert.Equal(t, "media-artifacts", cfg.Assets.Bucket)
	assert.Equal(t, RemovalDestroy, cfg.Bucket.RemovalPolicy)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestLoad_EnvAndOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BLOBSTACK_SERVICE", "photos")
	t.Setenv("BLOBSTACK_LOG_LEVEL", "warn")

	cfg, err := Load(Options{Overrides: map[string]any{"log.level": "error", "stack_name": "photos-dev"}})
	require.NoError(t, err)

	assert.Equal(t, "photos", cfg.Service)
	assert.Equal(t, "photos-dev", cfg.StackName)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Service:     "svc",
		StackName:   "svc",
		Identity:    "everyone",
		Runtime:     "python3.12",
		Handler:     "index.handler",
		Bucket:      BucketConfig{RemovalPolicy: "keep"},
		Log:         LogConfig{Level: "info", Format: "xml"},
		AdminPolicy: "AdministratorAccess",
	}

	err := cfg.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 3)
	assert.Contains(t, err.Error(), "identity")
	assert.Contains(t, err.Error(), "removal_policy")
	assert.Contains(t, err.Error(), "log.format")
}

func TestValidate_SharedNeedsPolicy(t *testing.T) {
	cfg := Default()
	cfg.Identity = IdentityShared
	cfg.AdminPolicy = ""
	assert.ErrorContains(t, cfg.Validate(), "admin_policy")
}
