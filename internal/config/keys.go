package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoCredentials is returned when no usable model credentials are
// configured for any backend.
var ErrNoCredentials = errors.New("no model credentials configured")

// CredentialSource identifies which backend a run will authenticate with.
type CredentialSource string

const (
	// SourceProxy means the mediated proxy handles authentication.
	SourceProxy CredentialSource = "proxy"
	// SourceBedrock means AWS credentials are used.
	SourceBedrock CredentialSource = "bedrock"
	// SourceAPIKey means a direct Anthropic API key is used.
	SourceAPIKey CredentialSource = "api_key"
	// SourceNone means nothing usable was found.
	SourceNone CredentialSource = "none"
)

// Credentials is the resolved authentication material for one run.
type Credentials struct {
	// Source names the backend to authenticate with.
	Source CredentialSource
	// APIKey is populated only for SourceAPIKey.
	APIKey string
}

// Masked renders the credentials for display without leaking the key.
func (c Credentials) Masked() string {
	switch c.Source {
	case SourceProxy:
		return "proxy"
	case SourceBedrock:
		return "aws bedrock"
	case SourceAPIKey:
		if len(c.APIKey) <= 15 {
			return "***"
		}
		return c.APIKey[:7] + "..." + c.APIKey[len(c.APIKey)-4:]
	default:
		return "(not set)"
	}
}

// ResolveCredentials decides how a run authenticates: the mediated proxy
// wins when configured, then Bedrock, then a direct Anthropic key from the
// environment or the config file. A key that is present but malformed is
// an error rather than a silent fall-through to none.
func ResolveCredentials(cfg *Config) (Credentials, error) {
	if cfg == nil {
		return Credentials{Source: SourceNone}, ErrNoCredentials
	}
	if cfg.Proxy.BaseURL != "" {
		return Credentials{Source: SourceProxy}, nil
	}
	if cfg.Anthropic.UseAWSBedrock {
		return Credentials{Source: SourceBedrock}, nil
	}

	key := directKey(cfg)
	if key == "" {
		return Credentials{Source: SourceNone}, ErrNoCredentials
	}
	if err := checkKeyShape(key); err != nil {
		return Credentials{Source: SourceNone}, err
	}
	return Credentials{Source: SourceAPIKey, APIKey: key}, nil
}

// directKey prefers the environment over the config file. An unexpanded
// ${VAR} placeholder left in the file does not count as a key.
func directKey(cfg *Config) string {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key
	}
	key := os.ExpandEnv(cfg.Anthropic.APIKey)
	if strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// checkKeyShape sanity-checks a key's format without calling the provider.
func checkKeyShape(key string) error {
	if !strings.HasPrefix(key, "sk-ant-") {
		return fmt.Errorf("api key does not look like an Anthropic key (no sk-ant- prefix)")
	}
	if len(key) < 20 {
		return fmt.Errorf("api key is too short to be valid")
	}
	return nil
}
