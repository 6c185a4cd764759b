package main

import (
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/birdtagapp/birdtag-go/internal/catalog"
	"github.com/birdtagapp/birdtag-go/internal/config"
	"github.com/birdtagapp/birdtag-go/internal/push"
	"github.com/birdtagapp/birdtag-go/internal/session"
)

// buildSession assembles the push channel, merger, catalog store, and
// session controller from config. The returned cleanup closes the store.
func buildSession(cmd *cobra.Command) (*session.Controller, func(), error) {
	logger := buildLogger()

	if resolvedCfg.Push.Endpoint == "" {
		return nil, nil, fmt.Errorf("push.endpoint not configured")
	}

	client, _, err := buildAPIClient(cmd.Context(), logger)
	if err != nil {
		return nil, nil, err
	}

	baseDelay, err := config.Duration(resolvedCfg.Push.ReconnectBaseDelay, config.DefaultReconnectBaseDelay)
	if err != nil {
		return nil, nil, err
	}

	maxDelay, err := config.Duration(resolvedCfg.Push.ReconnectMaxDelay, config.DefaultReconnectMaxDelay)
	if err != nil {
		return nil, nil, err
	}

	channel := push.NewChannel(resolvedCfg.Push.Endpoint, push.Options{
		MaxReconnectAttempts: resolvedCfg.Push.MaxReconnectAttempts,
		ReconnectBaseDelay:   baseDelay,
		ReconnectMaxDelay:    maxDelay,
	}, logger)

	store, err := catalog.NewStore(resolvedCfg.Catalog.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}

	controller := session.NewController(
		channel, catalog.NewMerger(logger), store, client,
		resolvedCfg.Push.ResyncOnReconnect, logger,
	)

	return controller, func() { _ = store.Close() }, nil
}

// newListenCmd opens the push channel and prints tagging results as the
// pipeline reports them, until interrupted.
func newListenCmd() *cobra.Command {
	var flagFileID string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream processing updates from the pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			controller, cleanup, err := buildSession(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			resolver := buildResolver(ctx, logger)

			cred, err := resolver.Resolve(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			unsub := controller.Channel().Subscribe(func(ev push.Event) {
				fmt.Fprintf(out, "%s %s %s\n", ev.FileID, ev.FileType, formatTags(ev.Tags))
			})
			defer unsub()

			if err := controller.Start(ctx, cred, flagFileID); err != nil {
				return err
			}
			defer controller.Stop()

			<-ctx.Done()

			return nil
		},
	}

	cmd.Flags().StringVar(&flagFileID, "file-id", "", "only receive updates for one file")

	return cmd
}

// formatTags renders a species→count map as "crow:2 pigeon:1", sorted for
// stable output.
func formatTags(tags map[string]int) string {
	if len(tags) == 0 {
		return "(no tags)"
	}

	parts := make([]string, 0, len(tags))
	for species, count := range tags {
		parts = append(parts, fmt.Sprintf("%s:%d", species, count))
	}

	sort.Strings(parts)

	return strings.Join(parts, " ")
}
