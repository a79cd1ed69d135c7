package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var (
		file       string
		debounceMs int
	)

	cmd := &cobra.Command{
		Use:   "watch -f transcript.json",
		Short: "Re-check a transcript's budget every time the file changes",
		Long: `Start a long-running watcher that reloads a transcript whenever it is
written and prints its budget status and warnings.

The parent directory is watched so editors that save by renaming a temp
file are still seen. Rapid writes are debounced into a single refresh.

Press Ctrl-C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			target, err := filepath.Abs(file)
			if err != nil {
				return err
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			defer watcher.Close()

			if err := watcher.Add(filepath.Dir(target)); err != nil {
				return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
			}

			debounce := time.Duration(debounceMs) * time.Millisecond
			w := cmd.OutOrStdout()
			refresh := func() {
				fmt.Fprintf(w, "%s %s\n", styleDim.Render("["+time.Now().Format("15:04:05")+"]"), file)
				if err := e.printTranscriptStatus(w, target); err != nil {
					fmt.Fprintf(os.Stderr, "  %v\n", err)
				}
			}

			fmt.Fprintf(w, "Watching %s (debounce %s). Press Ctrl-C to stop.\n", file, debounce)
			refresh()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			timer := time.NewTimer(debounce)
			timer.Stop() // Don't fire immediately.

			for {
				select {
				case <-ctx.Done():
					fmt.Fprintln(w, "\nStopping watcher.")
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if isTargetEvent(event, target) {
						timer.Reset(debounce)
					}

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					fmt.Fprintf(os.Stderr, "  watch error: %v\n", err)

				case <-timer.C:
					refresh()
				}
			}
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "transcript file")
	cmd.Flags().IntVar(&debounceMs, "debounce", 300, "debounce interval in milliseconds")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// isTargetEvent reports whether event writes or recreates target.
func isTargetEvent(event fsnotify.Event, target string) bool {
	if filepath.Clean(event.Name) != target {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (e *env) printTranscriptStatus(w io.Writer, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	st, _, err := e.loadState(path, nil)
	if err != nil {
		return err
	}
	printStatus(w, st)
	fmt.Fprintln(w)
	return nil
}
