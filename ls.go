package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/birdtagapp/birdtag-go/internal/catalog"
)

// newLsCmd lists tracked entities. By default it refreshes from the
// backend listing; --cached reads the local catalog only, which works
// offline.
func newLsCmd() *cobra.Command {
	var flagCached bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List uploaded files and their tags",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := catalog.NewStore(resolvedCfg.Catalog.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if !flagCached {
				if err := refreshCatalog(cmd, store); err != nil {
					return err
				}
			}

			entities, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			if len(entities) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No files.")
				return nil
			}

			for _, e := range entities {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-7s %s\n", e.FileID, e.Kind, formatTags(e.Tags))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&flagCached, "cached", false, "list from the local catalog without contacting the backend")

	return cmd
}

// refreshCatalog pulls the backend listing through the merger into the
// local store.
func refreshCatalog(cmd *cobra.Command, store *catalog.Store) error {
	logger := buildLogger()

	client, _, err := buildAPIClient(cmd.Context(), logger)
	if err != nil {
		return err
	}

	snaps, err := client.ListFiles(cmd.Context())
	if err != nil {
		return err
	}

	merger := catalog.NewMerger(logger)

	for _, snap := range snaps {
		entity := merger.ApplySnapshot(snap)
		if err := store.Upsert(cmd.Context(), entity); err != nil {
			return err
		}
	}

	return nil
}
