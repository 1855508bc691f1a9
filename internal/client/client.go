package client

import (
	"context"
	"fmt"
	"os"

	"github.com/boristopalov/envrunner/pkg/providers"
)

// Provider names accepted by ForProvider
const (
	OpenAI = "openai"
	Gemini = "gemini"
)

// DefaultModel returns the model used when none is given for a provider
func DefaultModel(provider string) string {
	switch provider {
	case Gemini:
		return "gemini-2.0-flash-exp"
	default:
		return "gpt-4o-mini"
	}
}

// ForProvider builds the completion client for a provider. Credentials come
// from the environment (OPENAI_API_KEY, OPENAI_API_BASE_URL, GEMINI_API_KEY).
func ForProvider(ctx context.Context, provider string) (providers.Client, error) {
	switch provider {
	case OpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("OPENAI_API_BASE_URL") == "" {
			return nil, fmt.Errorf("openai: set OPENAI_API_KEY, or OPENAI_API_BASE_URL for a local endpoint")
		}
		return providers.OpenAi(), nil
	case Gemini:
		return providers.Gemini(ctx, providers.ProviderParams{})
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
