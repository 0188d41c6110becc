package domain

import (
	"fmt"
	"strings"
)

// Provider is the closed set of CLI agent backends. Call sites that need
// provider-specific behavior switch exhaustively over these values; there
// is deliberately no open registration mechanism.
type Provider string

// Provider constants.
const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
	ProviderGemini Provider = "gemini"
)

// DefaultProvider is assumed for bare agent names without a provider prefix.
const DefaultProvider = ProviderClaude

// ParseProvider validates s as a known provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderClaude, ProviderCodex, ProviderGemini:
		return Provider(s), nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// Provider returns the provider encoded in the agent ID prefix, or
// DefaultProvider for bare names.
func (a AgentID) Provider() Provider {
	prefix, _, ok := strings.Cut(string(a), ":")
	if !ok {
		return DefaultProvider
	}
	p, err := ParseProvider(prefix)
	if err != nil {
		return DefaultProvider
	}
	return p
}

// Name returns the agent name without the provider prefix.
func (a AgentID) Name() string {
	prefix, rest, ok := strings.Cut(string(a), ":")
	if !ok {
		return prefix
	}
	return rest
}

// Binary returns the CLI executable name for the provider.
func (p Provider) Binary() string {
	switch p {
	case ProviderClaude:
		return "claude"
	case ProviderCodex:
		return "codex"
	case ProviderGemini:
		return "gemini"
	default:
		return string(p)
	}
}

// ResumeArgs returns the CLI arguments that resume a prior conversation
// under the given strategy. Stateless invocations get no arguments.
func (p Provider) ResumeArgs(strategy ResumeStrategy, conversationID string) []string {
	if strategy == ResumeStateless || conversationID == "" {
		return nil
	}
	switch p {
	case ProviderClaude:
		if strategy == ResumeLatest {
			return []string{"--continue"}
		}
		return []string{"--resume", conversationID}
	case ProviderCodex:
		return []string{"resume", conversationID}
	case ProviderGemini:
		return []string{"--session", conversationID}
	default:
		return nil
	}
}
