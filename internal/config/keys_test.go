package config

import (
	"strings"
	"testing"
)

func TestResolveCredentialsSourceOrder(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	proxy := &Config{}
	proxy.Proxy.BaseURL = "https://proxy.internal"
	proxy.Anthropic.APIKey = "sk-ant-cfg1234567890123"
	if creds, err := ResolveCredentials(proxy); err != nil || creds.Source != SourceProxy {
		t.Errorf("proxy config resolved to %s, err %v", creds.Source, err)
	}

	bedrock := &Config{}
	bedrock.Anthropic.UseAWSBedrock = true
	if creds, err := ResolveCredentials(bedrock); err != nil || creds.Source != SourceBedrock {
		t.Errorf("bedrock config resolved to %s, err %v", creds.Source, err)
	}

	direct := &Config{}
	direct.Anthropic.APIKey = "sk-ant-cfg1234567890123"
	creds, err := ResolveCredentials(direct)
	if err != nil || creds.Source != SourceAPIKey {
		t.Fatalf("direct config resolved to %s, err %v", creds.Source, err)
	}
	if creds.APIKey != "sk-ant-cfg1234567890123" {
		t.Errorf("key = %q", creds.APIKey)
	}

	if creds, err := ResolveCredentials(&Config{}); err == nil || creds.Source != SourceNone {
		t.Errorf("empty config resolved to %s, err %v", creds.Source, err)
	}
}

func TestResolveCredentialsEnvWinsOverFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env9876543210987")
	cfg := &Config{}
	cfg.Anthropic.APIKey = "sk-ant-cfg1234567890123"

	creds, err := ResolveCredentials(cfg)
	if err != nil {
		t.Fatalf("ResolveCredentials: %v", err)
	}
	if creds.APIKey != "sk-ant-env9876543210987" {
		t.Errorf("key = %q, want env value", creds.APIKey)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	creds, err = ResolveCredentials(cfg)
	if err != nil {
		t.Fatalf("ResolveCredentials from file: %v", err)
	}
	if creds.APIKey != "sk-ant-cfg1234567890123" {
		t.Errorf("key = %q, want file value", creds.APIKey)
	}
}

func TestResolveCredentialsRejectsMalformedKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"sk-ant-short", true},
		{"not-a-key-at-all-but-long", true},
		{"${UNSET_PLACEHOLDER}", true},
		{"sk-ant-REDACTED", false},
	}
	for _, tt := range tests {
		t.Setenv("ANTHROPIC_API_KEY", "")
		cfg := &Config{}
		cfg.Anthropic.APIKey = tt.key
		_, err := ResolveCredentials(cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("ResolveCredentials with key %q: err = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestCredentialsMasked(t *testing.T) {
	none := Credentials{Source: SourceNone}
	if got := none.Masked(); got != "(not set)" {
		t.Errorf("none = %q", got)
	}
	short := Credentials{Source: SourceAPIKey, APIKey: "sk-ant-tiny"}
	if got := short.Masked(); got != "***" {
		t.Errorf("short = %q", got)
	}
	full := Credentials{Source: SourceAPIKey, APIKey: "sk-ant-REDACTED"}
	if got := full.Masked(); got != "sk-ant-...mnop" {
		t.Errorf("masked = %q", got)
	}
	if got := full.Masked(); strings.Contains(got, "abcdefgh") {
		t.Errorf("mask leaks key body: %q", got)
	}
}
