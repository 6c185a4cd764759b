package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/birdtagapp/birdtag-go/internal/creds"
)

// newLoginCmd performs the browser-based OAuth2 login and persists the
// resulting credential.
func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the birdtag identity provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			provider := providerConfig()
			if provider.AuthURL == "" || provider.TokenURL == "" || provider.ClientID == "" {
				return fmt.Errorf("auth.auth_url, auth.token_url, and auth.client_id must be configured")
			}

			_, err := creds.LoginWithBrowser(
				cmd.Context(), provider, resolvedCfg.Auth.TokenPath, openBrowser, logger,
			)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Logged in.")

			return nil
		},
	}
}

// newLogoutCmd removes the persisted credential.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.Logout(resolvedCfg.Auth.TokenPath, buildLogger()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")

			return nil
		},
	}
}

// newWhoamiCmd prints the identity of the currently resolved credential.
func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			resolver := buildResolver(cmd.Context(), logger)

			cred, err := resolver.Resolve(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "subject: %s\n", cred.SubjectID)

			if cred.Email != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "email:   %s\n", cred.Email)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "expires: %s\n", cred.ExpiresAt.Local())

			return nil
		},
	}
}
