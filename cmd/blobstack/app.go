package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lex00/blobstack-go/internal/assets"
	"github.com/lex00/blobstack-go/internal/config"
	"github.com/lex00/blobstack-go/internal/deploy"
	"github.com/lex00/blobstack-go/internal/logging"
	"github.com/lex00/blobstack-go/internal/stack"
	"github.com/lex00/blobstack-go/internal/topology"
)

// overrideFlags maps persistent flags to config keys.
var overrideFlags = map[string]string{
	"service":    "service",
	"identity":   "identity",
	"region":     "region",
	"profile":    "profile",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// exitError ends the process with code without printing anything further.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// app is the state shared by every command.
type app struct {
	configFile string

	cfg *config.Config
	log logging.Log
	// fsys holds the function sources. Asset paths are relative to it.
	fsys fs.FS

	timeout     time.Duration
	newDeployer func(ctx context.Context) (*deploy.Deployer, error)
}

func newApp() *app {
	return &app{fsys: os.DirFS(".")}
}

// load reads the configuration, applying any persistent flag the user set.
func (a *app) load(cmd *cobra.Command) error {
	overrides := map[string]any{}
	for flag, key := range overrideFlags {
		f := cmd.Flags().Lookup(flag)
		if f != nil && f.Changed {
			overrides[key] = f.Value.String()
		}
	}

	cfg, err := config.Load(config.Options{File: a.configFile, Overrides: overrides})
	if err != nil {
		return err
	}
	log, err := logging.NewStderr(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log.WithField("service", cfg.Service)
	return nil
}

func (a *app) topology() *topology.Topology {
	return topology.Blobs(a.cfg)
}

// synthesize builds the stack. With fromSource, every function directory is
// packaged and the returned packager holds the archives; otherwise code
// locations are placeholders derived from the function IDs.
func (a *app) synthesize(fromSource bool) (*stack.Result, *assets.Packager, error) {
	var (
		resolver assets.Resolver = assets.StaticResolver{Bucket: a.cfg.Assets.Bucket}
		packager *assets.Packager
	)
	if fromSource {
		packager = assets.NewPackager(a.fsys, a.cfg.Assets.Bucket, a.cfg.Assets.Excludes)
		resolver = packager
	}

	result, err := stack.Synthesize(a.topology(), resolver)
	if err != nil {
		return nil, nil, err
	}
	a.log.WithField("resources", len(result.Order)).Debug("Synthesized stack")
	return result, packager, nil
}
