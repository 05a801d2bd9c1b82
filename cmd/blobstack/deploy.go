package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lex00/blobstack-go/internal/deploy"
)

func (a *app) deployOptions() deploy.Options {
	return deploy.Options{
		StackName:   a.cfg.StackName,
		Service:     a.cfg.Service,
		Region:      a.cfg.Region,
		AssetBucket: a.cfg.Assets.Bucket,
		Timeout:     a.timeout,
	}
}

// deployer returns the configured Deployer, creating AWS clients on first use.
func (a *app) deployer(ctx context.Context) (*deploy.Deployer, error) {
	if a.newDeployer != nil {
		return a.newDeployer(ctx)
	}
	clients, err := deploy.NewClients(ctx, a.cfg.Region, a.cfg.Profile)
	if err != nil {
		return nil, err
	}
	opts := a.deployOptions()
	if opts.Region == "" {
		opts.Region = clients.Region
	}
	return deploy.New(clients.CloudFormation, clients.S3, a.log, opts), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newDeployCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Package the functions and deploy the stack",
		Long: `Deploy zips every function directory under source_dir, uploads new archives
to the asset bucket and creates or updates the stack. A stack whose template
fingerprint is unchanged is left alone.

The asset bucket (assets.bucket, default <service>-assets) must already exist.

Examples:
    blobstack deploy
    blobstack deploy --service media --region eu-west-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runDeploy(ctx, a, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&a.timeout, "timeout", 30*time.Minute, "Maximum wait for the stack operation")
	return cmd
}

func runDeploy(ctx context.Context, a *app, out io.Writer) error {
	result, packager, err := a.synthesize(true)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	d, err := a.deployer(ctx)
	if err != nil {
		return err
	}

	status, err := d.Deploy(ctx, result.Template, packager.Manifest())
	switch {
	case errors.Is(err, deploy.ErrNoChanges):
		fmt.Fprintf(out, "Stack %s is up to date.\n", a.cfg.StackName)
	case err != nil:
		return fmt.Errorf("deploy failed: %w", err)
	default:
		fmt.Fprintf(out, "Stack %s: %s\n", status.StackName, status.StackStatus)
	}
	printOutputs(out, status)
	return nil
}

func newDestroyCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete the stack",
		Long: `Destroy deletes the stack and waits for the deletion to finish. The content
bucket survives unless bucket.removal_policy is destroy.

Examples:
    blobstack destroy --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete stack %s without --yes", a.cfg.StackName)
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runDestroy(ctx, a, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	cmd.Flags().DurationVar(&a.timeout, "timeout", 30*time.Minute, "Maximum wait for the deletion")
	return cmd
}

func runDestroy(ctx context.Context, a *app, out io.Writer) error {
	d, err := a.deployer(ctx)
	if err != nil {
		return err
	}
	switch err := d.Destroy(ctx); {
	case errors.Is(err, deploy.ErrStackNotFound):
		fmt.Fprintf(out, "Stack %s does not exist.\n", a.cfg.StackName)
	case err != nil:
		return fmt.Errorf("destroy failed: %w", err)
	default:
		fmt.Fprintf(out, "Stack %s deleted.\n", a.cfg.StackName)
	}
	return nil
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the deployed stack's status and outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

func runStatus(ctx context.Context, a *app, out io.Writer) error {
	d, err := a.deployer(ctx)
	if err != nil {
		return err
	}
	status, err := d.Status(ctx)
	if errors.Is(err, deploy.ErrStackNotFound) {
		fmt.Fprintf(out, "Stack %s does not exist.\n", a.cfg.StackName)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Stack %s: %s\n", status.StackName, status.StackStatus)
	if status.Reason != "" {
		fmt.Fprintf(out, "Reason: %s\n", status.Reason)
	}
	if status.Fingerprint != "" {
		fmt.Fprintf(out, "Fingerprint: %s\n", status.Fingerprint)
	}
	printOutputs(out, status)
	return nil
}

func printOutputs(out io.Writer, status *deploy.Status) {
	if status == nil || len(status.Outputs) == 0 {
		return
	}
	fmt.Fprintln(out, "\nOutputs:")
	for _, key := range status.SortedOutputs() {
		fmt.Fprintf(out, "  %s = %s\n", key, status.Outputs[key])
	}
}
