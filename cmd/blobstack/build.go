package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	blobstack "github.com/lex00/blobstack-go"
	"github.com/lex00/blobstack-go/internal/template"
)

func newBuildCmd(a *app) *cobra.Command {
	var (
		outputFormat string
		outputFile   string
		fromSource   bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Generate the CloudFormation template",
		Long: `Build synthesizes the blob stack and writes its template.

Function code locations are placeholders unless --package is given, in which case
each function directory under source_dir is zipped and addressed by content hash.

Examples:
    blobstack build
    blobstack build -o template.json
    blobstack build --format yaml --package`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(a, cmd.OutOrStdout(), outputFormat, outputFile, fromSource)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVar(&fromSource, "package", false, "Package function sources to compute code locations")

	return cmd
}

func runBuild(a *app, out io.Writer, format, outputFile string, fromSource bool) error {
	result, _, err := a.synthesize(fromSource)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	buildResult := blobstack.BuildResult{
		Success:   true,
		Template:  *result.Template,
		Resources: result.Order,
	}
	return outputResult(out, buildResult, format, outputFile)
}

func outputResult(out io.Writer, result blobstack.BuildResult, format, outputFile string) error {
	data, err := encodeTemplate(&result.Template, format)
	if err != nil {
		return err
	}

	if outputFile == "" {
		fmt.Fprintln(out, string(data))
		return nil
	}
	return os.WriteFile(outputFile, data, 0644)
}

func encodeTemplate(t *blobstack.Template, format string) ([]byte, error) {
	switch format {
	case "json":
		return template.ToJSON(t)
	case "yaml":
		return template.ToYAML(t)
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}
