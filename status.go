package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/birdtagapp/birdtag-go/internal/catalog"
	"github.com/birdtagapp/birdtag-go/internal/creds"
)

// Credential state constants for status reporting.
const (
	credStateMissing = "missing"
	credStateExpired = "expired"
	credStateValid   = "valid"
)

const endpointNotSet = "(not configured)"

// statusReport is the full status snapshot, renderable as text or JSON.
type statusReport struct {
	Credential statusCredential `json:"credential"`
	APIBaseURL string           `json:"api_base_url,omitempty"`
	PushURL    string           `json:"push_endpoint,omitempty"`
	Catalog    statusCatalog    `json:"catalog"`
}

// statusCredential reports the resolved credential and its identity claims.
type statusCredential struct {
	State   string `json:"state"`
	Subject string `json:"subject,omitempty"`
	Email   string `json:"email,omitempty"`
	Expires string `json:"expires,omitempty"`
}

// statusCatalog summarizes the local entity cache.
type statusCatalog struct {
	Path     string `json:"path"`
	Entities int    `json:"entities"`
	Tagged   int    `json:"tagged"`
}

// newStatusCmd reports the state a fresh invocation can observe: whether a
// usable credential exists, which endpoints are configured, and what the
// local catalog cache holds. Reads persisted state only — it does not
// contact the backend.
func newStatusCmd() *cobra.Command {
	var flagJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show credential, endpoint, and catalog status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			report := buildStatusReport(cmd.Context(), logger)

			if flagJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(report)
			}

			printStatusText(cmd, report)

			return nil
		},
	}

	cmd.Flags().BoolVar(&flagJSON, "json", false, "output status as JSON")

	return cmd
}

// buildStatusReport assembles the status snapshot from persisted state.
func buildStatusReport(ctx context.Context, logger *slog.Logger) statusReport {
	return statusReport{
		Credential: credentialStatus(ctx, logger),
		APIBaseURL: resolvedCfg.API.BaseURL,
		PushURL:    resolvedCfg.Push.Endpoint,
		Catalog:    catalogStatus(ctx, logger),
	}
}

// credentialStatus resolves the credential chain and classifies the outcome.
func credentialStatus(ctx context.Context, logger *slog.Logger) statusCredential {
	resolver := buildResolver(ctx, logger)

	cred, err := resolver.Resolve(ctx)
	if err != nil {
		var ae *creds.AuthError
		if errors.As(err, &ae) && ae.Reason == creds.ReasonExpired {
			return statusCredential{State: credStateExpired}
		}

		return statusCredential{State: credStateMissing}
	}

	return statusCredential{
		State:   credStateValid,
		Subject: cred.SubjectID,
		Email:   cred.Email,
		Expires: cred.ExpiresAt.Local().Format(time.RFC1123),
	}
}

// catalogStatus counts cached entities and how many carry tags. A cache that
// cannot be opened degrades to zero counts — status never fails outright.
func catalogStatus(ctx context.Context, logger *slog.Logger) statusCatalog {
	stat := statusCatalog{Path: resolvedCfg.Catalog.DBPath}

	store, err := catalog.NewStore(stat.Path, logger)
	if err != nil {
		logger.Warn("cannot open catalog cache", slog.String("error", err.Error()))
		return stat
	}
	defer store.Close()

	entities, err := store.List(ctx)
	if err != nil {
		logger.Warn("cannot list catalog cache", slog.String("error", err.Error()))
		return stat
	}

	stat.Entities = len(entities)

	for _, e := range entities {
		if len(e.Tags) > 0 {
			stat.Tagged++
		}
	}

	return stat
}

// printStatusText renders the report in aligned human-readable form.
func printStatusText(cmd *cobra.Command, report statusReport) {
	out := cmd.OutOrStdout()

	switch report.Credential.State {
	case credStateValid:
		fmt.Fprintf(out, "credential: valid (subject %s", report.Credential.Subject)

		if report.Credential.Email != "" {
			fmt.Fprintf(out, ", %s", report.Credential.Email)
		}

		fmt.Fprintf(out, ", expires %s)\n", report.Credential.Expires)
	case credStateExpired:
		fmt.Fprintln(out, "credential: expired (run 'birdtag login')")
	default:
		fmt.Fprintln(out, "credential: missing (run 'birdtag login')")
	}

	fmt.Fprintf(out, "api:        %s\n", orNotSet(report.APIBaseURL))
	fmt.Fprintf(out, "push:       %s\n", orNotSet(report.PushURL))
	fmt.Fprintf(out, "catalog:    %d files cached, %d tagged (%s)\n",
		report.Catalog.Entities, report.Catalog.Tagged, report.Catalog.Path)
}

func orNotSet(endpoint string) string {
	if endpoint == "" {
		return endpointNotSet
	}

	return endpoint
}
