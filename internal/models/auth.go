package models

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/skylattice/orbit/internal/config"
	"github.com/skylattice/orbit/internal/secrets"
)

// AuthKind distinguishes between API key and Bearer token auth.
type AuthKind int

const (
	AuthAPIKey AuthKind = iota
	AuthBearerToken
)

// ResolvedAuth holds the resolved credentials and their kind.
type ResolvedAuth struct {
	Kind  AuthKind
	Value string
}

// ResolveAuth resolves the credentials for a provider.
// Resolution order: direct token → direct api_key → env_var → driver default env.
// Values may be ENC[age:...] blobs; they are decrypted with the ORBIT_PATH key.
func ResolveAuth(cfg config.ProviderConfig) (ResolvedAuth, error) {
	resolve := func(token string) string {
		trimmed := strings.TrimSpace(token)
		if trimmed == "" {
			return ""
		}
		if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") {
			trimmed = os.Getenv(trimmed[2 : len(trimmed)-1])
		}
		return decryptIfNeeded(trimmed)
	}
	// Direct Bearer token (Claude Code / OAuth)
	token := resolve(cfg.Auth.Token)
	if token != "" {
		return ResolvedAuth{Kind: AuthBearerToken, Value: token}, nil
	}

	// Direct API key from config
	apiKey := resolve(cfg.Auth.APIKey)
	if apiKey != "" {
		return ResolvedAuth{Kind: AuthAPIKey, Value: apiKey}, nil
	}

	// Default env vars per driver
	switch strings.ToLower(cfg.Driver) {
	case "anthropic":
		if key := decryptIfNeeded(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
			return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
		}
		return ResolvedAuth{}, fmt.Errorf("ANTHROPIC_API_KEY not set")
	case "openai":
		if key := decryptIfNeeded(os.Getenv("OPENAI_API_KEY")); key != "" {
			return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
		}
		return ResolvedAuth{}, fmt.Errorf("OPENAI_API_KEY not set")
	case "mistral":
		if key := decryptIfNeeded(os.Getenv("MISTRAL_API_KEY")); key != "" {
			return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
		}
		return ResolvedAuth{}, fmt.Errorf("MISTRAL_API_KEY not set")
	default:
		return ResolvedAuth{}, fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
}

// decryptIfNeeded unwraps ENC[age:...] credential blobs. On failure the
// value is treated as absent so resolution falls through to the next source.
func decryptIfNeeded(v string) string {
	if !secrets.IsEncrypted(v) {
		return v
	}
	identity, err := secrets.LoadIdentity(secrets.KeyPath())
	if err != nil {
		slog.Warn("encrypted credential but no usable age key", "error", err)
		return ""
	}
	plain, err := secrets.Decrypt(v, identity)
	if err != nil {
		slog.Warn("credential decryption failed", "error", err)
		return ""
	}
	return plain
}
