package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/birdtagapp/birdtag-go/internal/api"
	"github.com/birdtagapp/birdtag-go/internal/config"
	"github.com/birdtagapp/birdtag-go/internal/creds"
)

// providerConfig maps the auth config section to the creds provider.
func providerConfig() creds.ProviderConfig {
	return creds.ProviderConfig{
		AuthURL:  resolvedCfg.Auth.AuthURL,
		TokenURL: resolvedCfg.Auth.TokenURL,
		ClientID: resolvedCfg.Auth.ClientID,
	}
}

// buildResolver assembles the ordered credential source list: the active
// OAuth2 session first, then the persisted fallback token file.
func buildResolver(ctx context.Context, logger *slog.Logger) *creds.Resolver {
	tokenPath := resolvedCfg.Auth.TokenPath

	sources := make([]creds.Source, 0, 2)

	src, err := creds.TokenSourceFromPath(ctx, providerConfig(), tokenPath, logger)
	if err == nil {
		sources = append(sources, creds.NewSessionSource(src, logger))
	} else {
		logger.Debug("no active session", slog.String("error", err.Error()))
	}

	sources = append(sources, creds.NewFileSource(tokenPath, logger))

	return creds.NewResolver(logger, sources...)
}

// resolverToken adapts a creds.Resolver to the api.TokenSource interface.
type resolverToken struct {
	resolver *creds.Resolver
}

func (r resolverToken) Bearer(ctx context.Context) (string, error) {
	cred, err := r.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}

	return cred.Bearer(), nil
}

// buildAPIClient wires the resolver into a backend API client.
func buildAPIClient(ctx context.Context, logger *slog.Logger) (*api.Client, *creds.Resolver, error) {
	if resolvedCfg.API.BaseURL == "" {
		return nil, nil, fmt.Errorf("api.base_url not configured (set it in %s)", config.DefaultConfigPath())
	}

	httpClient, err := requestTimeoutClient()
	if err != nil {
		return nil, nil, err
	}

	resolver := buildResolver(ctx, logger)
	client := api.NewClient(resolvedCfg.API.BaseURL, httpClient, resolverToken{resolver: resolver}, logger)

	return client, resolver, nil
}

// openBrowser launches the platform's default browser at the given URL.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "linux":
		return exec.Command("xdg-open", url).Start()
	default:
		return fmt.Errorf("no browser launcher for %s", runtime.GOOS)
	}
}
