// Command blobstack synthesizes, checks and deploys the blob-processing stack.
//
// Usage:
//
//	blobstack build               Generate CloudFormation template
//	blobstack lint                Check the template for issues
//	blobstack diff --deployed     Compare against the deployed stack
//	blobstack deploy              Package functions and deploy
//	blobstack version             Show version
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := newApp()

	rootCmd := &cobra.Command{
		Use:   "blobstack",
		Short: "Synthesize and deploy the blob-processing stack",
		Long: `blobstack builds the CloudFormation template of the blob-processing system:
a record table with a change stream, a content bucket, an HTTP API and the four
functions wired to them.

Settings come from .blobstack.yaml, BLOBSTACK_* environment variables and flags:

    blobstack build --service media -o template.json
    blobstack deploy --identity least-privilege`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (default: .blobstack.yaml in . or $HOME)")
	flags.String("service", "", "Service prefix for resource names")
	flags.String("identity", "", "Identity mode: least-privilege or shared")
	flags.String("region", "", "AWS region")
	flags.String("profile", "", "AWS shared config profile")
	flags.String("log-level", "", "Log level: trace, debug, info, warn or error")
	flags.String("log-format", "", "Log format: auto, text or json")

	rootCmd.AddCommand(
		newBuildCmd(a),
		newListCmd(a),
		newGraphCmd(a),
		newValidateCmd(a),
		newLintCmd(a),
		newDiffCmd(a),
		newDeployCmd(a),
		newDestroyCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "blobstack %s\n", getVersion())
		},
	}
}
