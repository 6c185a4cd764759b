package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/birdtagapp/birdtag-go/internal/config"
	"github.com/birdtagapp/birdtag-go/internal/watch"
)

// newWatchCmd watches the configured drop folder and uploads media files
// as they appear.
func newWatchCmd() *cobra.Command {
	var flagDir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a drop folder and upload new media automatically",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			dir := flagDir
			if dir == "" {
				dir = resolvedCfg.Watch.Dir
			}

			if dir == "" {
				return fmt.Errorf("no drop folder configured (set watch.dir or pass --dir)")
			}

			settle, err := config.Duration(resolvedCfg.Watch.SettleDelay, config.DefaultSettleDelay)
			if err != nil {
				return err
			}

			coord, err := buildCoordinator(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			watcher := watch.New(dir, settle, func(ctx context.Context, path string) error {
				_, err := coord.Upload(ctx, path)
				return err
			}, logger)

			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&flagDir, "dir", "", "drop folder to watch (overrides config)")

	return cmd
}
