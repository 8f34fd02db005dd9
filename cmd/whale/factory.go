package main

import (
	"fmt"

	"github.com/floradistro/whale/internal/config"
	"github.com/floradistro/whale/internal/transport"
)

// buildTransport assembles the model backend from config: the mediated
// proxy when one is configured, with the direct backend behind it for
// models the proxy has not deployed; otherwise the direct backend alone.
func buildTransport(cfg *config.Config) (transport.Transport, error) {
	creds, err := config.ResolveCredentials(cfg)
	if err != nil {
		return nil, fmt.Errorf("no model credentials configured: set ANTHROPIC_API_KEY, enable Bedrock, or configure a proxy (%w)", err)
	}

	switch creds.Source {
	case config.SourceProxy:
		proxy := transport.NewProxy(transport.ProxyConfig{
			BaseURL: cfg.Proxy.BaseURL,
			Token:   cfg.Proxy.Token,
		})
		direct, err := buildDirect(cfg)
		if err != nil {
			// Proxy-only setups are valid; without direct credentials
			// there is just nothing to fall back to.
			return proxy, nil
		}
		return transport.NewFallback(proxy, direct), nil

	default:
		return buildDirect(cfg)
	}
}

func buildDirect(cfg *config.Config) (transport.Transport, error) {
	apiKey := ""
	if !cfg.Anthropic.UseAWSBedrock {
		// Resolve again without the proxy section so the direct key shows
		// through even when the proxy is the primary backend.
		direct := *cfg
		direct.Proxy.BaseURL = ""
		creds, err := config.ResolveCredentials(&direct)
		if err != nil {
			return nil, err
		}
		if creds.Source != config.SourceAPIKey {
			return nil, config.ErrNoCredentials
		}
		apiKey = creds.APIKey
	}
	return transport.NewAnthropic(transport.AnthropicConfig{
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
}
