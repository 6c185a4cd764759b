package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/birdtagapp/birdtag-go/internal/config"
	"github.com/birdtagapp/birdtag-go/internal/upload"
)

// buildCoordinator wires the API client into an upload coordinator using
// the transfers config section.
func buildCoordinator(cmd *cobra.Command) (*upload.Coordinator, error) {
	logger := buildLogger()

	client, _, err := buildAPIClient(cmd.Context(), logger)
	if err != nil {
		return nil, err
	}

	timeout, err := config.Duration(resolvedCfg.Transfers.TransferTimeout, config.DefaultTransferTimeout)
	if err != nil {
		return nil, err
	}

	grace, err := config.Duration(resolvedCfg.Transfers.CleanupGrace, config.DefaultCleanupGrace)
	if err != nil {
		return nil, err
	}

	// Transfers get their own client: the per-request timeout would cut
	// long uploads short, so the coordinator's transfer timeout governs.
	opts := upload.Options{
		TransferTimeout: timeout,
		ParallelUploads: resolvedCfg.Transfers.ParallelUploads,
		CleanupGrace:    grace,
	}

	return upload.NewCoordinator(client, nil, opts, logger), nil
}

// newUploadCmd uploads one or more files through the grant/transfer
// pipeline.
func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload media files for processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := buildCoordinator(cmd)
			if err != nil {
				return err
			}

			uploadErr := coord.UploadAll(cmd.Context(), args)

			for _, task := range coord.Tasks() {
				switch task.Status {
				case upload.StatusCompleted:
					fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (file id %s)\n", task.Name, task.FileID)
				case upload.StatusFailed:
					fmt.Fprintf(cmd.OutOrStdout(), "FAILED   %s: %v\n", task.Name, task.Err)
				case upload.StatusPending, upload.StatusUploading:
					fmt.Fprintf(cmd.OutOrStdout(), "aborted  %s\n", task.Name)
				}
			}

			return uploadErr
		},
	}
}
