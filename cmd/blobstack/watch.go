package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lex00/blobstack-go/internal/lint"
)

// newWatchCmd creates the "watch" subcommand for rebuilding on source changes.
func newWatchCmd(a *app) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild when function sources change",
		Long: `Watch monitors source_dir and rebuilds on every change.

The watch command:
- Packages the function directories, so code hashes follow the sources
- Lints the template on each change
- Writes the template if lint passes (unless --lint-only)
- Debounces rapid changes to avoid excessive rebuilds

Examples:
    blobstack watch -o template.json
    blobstack watch --lint-only
    blobstack watch --debounce 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runWatch(ctx, a, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.lintOnly, "lint-only", false, "Only run lint, skip build")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", 500*time.Millisecond, "Debounce duration for rapid changes")
	cmd.Flags().StringVarP(&opts.outputFormat, "format", "f", "json", "Output format for build: json or yaml")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "Output file for build (default: summary only)")

	return cmd
}

type watchOptions struct {
	lintOnly     bool
	debounce     time.Duration
	outputFormat string
	outputFile   string
}

// runWatch rebuilds once, then on every write or create under source_dir until
// ctx is done.
func runWatch(ctx context.Context, a *app, out io.Writer, opts watchOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir, err := filepath.Abs(a.cfg.SourceDir)
	if err != nil {
		return err
	}
	if err := addDirRecursive(watcher, dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	fmt.Fprintf(out, "Watching: %s\n", dir)

	fmt.Fprintln(out, "Running initial lint/build...")
	runLintAndBuild(a, out, opts)

	var debounceTimer *time.Timer
	rebuildChan := make(chan struct{}, 1)

	fmt.Fprintln(out, "\nWatching for changes... (Ctrl+C to stop)")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ignoredPath(event.Name) {
				continue
			}
			// New directories need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addDirRecursive(watcher, event.Name)
				}
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(opts.debounce, func() {
				select {
				case rebuildChan <- struct{}{}:
				default:
				}
			})

		case <-rebuildChan:
			fmt.Fprintf(out, "\n[%s] Change detected, rebuilding...\n", time.Now().Format("15:04:05"))
			runLintAndBuild(a, out, opts)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.Warnf("Watch error: %v", err)

		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			fmt.Fprintln(out, "\nStopping watch...")
			return nil
		}
	}
}

// ignoredPath reports whether a change to path cannot affect the build.
func ignoredPath(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".pyc") ||
		strings.HasSuffix(base, ".swp")
}

// addDirRecursive adds a directory and all subdirectories to the watcher.
func addDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if path != dir && (strings.HasPrefix(base, ".") || base == "__pycache__" || base == "node_modules") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// runLintAndBuild rebuilds, lints and, when lint passes, writes the template. It
// reports whether lint passed.
func runLintAndBuild(a *app, out io.Writer, opts watchOptions) bool {
	result, _, err := a.synthesize(true)
	if err != nil {
		fmt.Fprintf(out, "Build error: %v\n", err)
		return false
	}

	lintResult := lint.LintTemplate(result.Template, a.lintOptions())
	for _, issue := range lintResult.Issues {
		if issue.Severity == lint.SeverityInfo {
			continue
		}
		fmt.Fprintf(out, "%s: %s: %s [%s]\n", issue.Resource, issue.Severity, issue.Message, issue.Rule)
	}
	if !lintResult.Success {
		fmt.Fprintln(out, "Lint failed, skipping build")
		return false
	}
	fmt.Fprintln(out, "Lint passed")

	if opts.lintOnly {
		return true
	}

	data, err := encodeTemplate(result.Template, opts.outputFormat)
	if err != nil {
		fmt.Fprintf(out, "Output error: %v\n", err)
		return true
	}
	if opts.outputFile == "" {
		fmt.Fprintf(out, "Build successful: %d resources\n", len(result.Order))
		return true
	}
	if err := os.WriteFile(opts.outputFile, data, 0644); err != nil {
		fmt.Fprintf(out, "Failed to write output: %v\n", err)
		return true
	}
	fmt.Fprintf(out, "Build successful, wrote %s\n", opts.outputFile)
	return true
}
