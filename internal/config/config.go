// Package config loads blobstack settings from an optional config file, BLOBSTACK_*
// environment variables and command-line overrides, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

const (
	// FileName is the config file looked up in the working and home directories
	// when no explicit file is given.
	FileName = ".blobstack"
	// EnvPrefix prefixes environment overrides: BLOBSTACK_SERVICE, BLOBSTACK_LOG_LEVEL.
	EnvPrefix = "BLOBSTACK"
)

// Identity modes. Shared, the default, gives every function one role carrying
// AdminPolicy; least-privilege gives each function a role scoped to its needs.
const (
	IdentityLeastPrivilege = "least-privilege"
	IdentityShared         = "shared"
)

// Removal policies for the content bucket.
const (
	RemovalRetain  = "retain"
	RemovalDestroy = "destroy"
)

// Config is the full set of settings.
type Config struct {
	Service     string       `mapstructure:"service"`
	StackName   string       `mapstructure:"stack_name"`
	Region      string       `mapstructure:"region"`
	Profile     string       `mapstructure:"profile"`
	Identity    string       `mapstructure:"identity"`
	AdminPolicy string       `mapstructure:"admin_policy"`
	Runtime     string       `mapstructure:"runtime"`
	Handler     string       `mapstructure:"handler"`
	SourceDir   string       `mapstructure:"source_dir"`
	Assets      AssetsConfig `mapstructure:"assets"`
	Bucket      BucketConfig `mapstructure:"bucket"`
	Log         LogConfig    `mapstructure:"log"`

	// FunctionInfix sits between the service and the function name:
	// <service>-<infix>-create-blob. Empty drops it.
	FunctionInfix string `mapstructure:"function_infix"`
}

// AssetsConfig controls function packaging and upload.
type AssetsConfig struct {
	// Bucket receives the packaged function code. Defaults to <service>-assets and
	// must exist before deploy.
	Bucket   string   `mapstructure:"bucket"`
	Excludes []string `mapstructure:"excludes"`
}

// BucketConfig controls the content bucket.
type BucketConfig struct {
	RemovalPolicy string `mapstructure:"removal_policy"`
}

// LogConfig controls diagnostics.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Options tells Load where to look.
type Options struct {
	// File is an explicit config file. When empty, FileName is searched for.
	File string
	// Overrides are applied last, keyed by config key ("log.level").
	Overrides map[string]any
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service", "blobs")
	v.SetDefault("stack_name", "")
	v.SetDefault("region", "")
	v.SetDefault("profile", "")
	v.SetDefault("identity", IdentityShared)
	v.SetDefault("admin_policy", "AdministratorAccess")
	v.SetDefault("function_infix", "cdk")
	v.SetDefault("runtime", "python3.12")
	v.SetDefault("handler", "index.handler")
	v.SetDefault("source_dir", "src")
	v.SetDefault("assets.bucket", "")
	v.SetDefault("assets.excludes", []string{"**/__pycache__/**", "**/*.pyc", "**/.DS_Store"})
	v.SetDefault("bucket.removal_policy", RemovalRetain)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg, err := Load(Options{})
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads and validates the configuration.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error loading config file (%s): %w", v.ConfigFileUsed(), err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.StackName == "" {
		cfg.StackName = cfg.Service
	}
	if cfg.Assets.Bucket == "" {
		cfg.Assets.Bucket = cfg.Service + "-assets"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Service == "" {
		result = multierror.Append(result, errors.New("service is required"))
	}
	if c.StackName == "" {
		result = multierror.Append(result, errors.New("stack_name is required"))
	}
	if !oneOf(c.Identity, IdentityLeastPrivilege, IdentityShared) {
		result = multierror.Append(result, fmt.Errorf("identity must be %q or %q, got %q",
			IdentityLeastPrivilege, IdentityShared, c.Identity))
	}
	if c.Identity == IdentityShared && c.AdminPolicy == "" {
		result = multierror.Append(result, errors.New("admin_policy is required in shared identity mode"))
	}
	if c.Runtime == "" {
		result = multierror.Append(result, errors.New("runtime is required"))
	}
	if c.Handler == "" {
		result = multierror.Append(result, errors.New("handler is required"))
	}
	if !oneOf(c.Bucket.RemovalPolicy, RemovalRetain, RemovalDestroy) {
		result = multierror.Append(result, fmt.Errorf("bucket.removal_policy must be %q or %q, got %q",
			RemovalRetain, RemovalDestroy, c.Bucket.RemovalPolicy))
	}
	if !oneOf(strings.ToLower(c.Log.Format), "auto", "text", "json") {
		result = multierror.Append(result, fmt.Errorf("log.format must be auto, text or json, got %q", c.Log.Format))
	}
	return result.ErrorOrNil()
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
