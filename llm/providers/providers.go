// Package providers constructs llm.Client values from provider names and credentials.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jxucoder/promptopt/llm"
	"github.com/jxucoder/promptopt/llm/anthropic"
	"github.com/jxucoder/promptopt/llm/gemini"
	"github.com/jxucoder/promptopt/llm/openai"
)

// ErrNoCredential is returned when no API key is available for any provider.
var ErrNoCredential = errors.New("no backend credential configured")

// Keys holds the API key of every supported provider.
type Keys struct {
	Anthropic string
	OpenAI    string
	Gemini    string
}

// Resolve picks a provider and key. For ProviderAuto it prefers Anthropic,
// then OpenAI, then Gemini.
func (k Keys) Resolve(p llm.Provider) (llm.Provider, string, error) {
	switch p {
	case llm.ProviderAnthropic:
		return p, k.Anthropic, requireKey(p, k.Anthropic)
	case llm.ProviderOpenAI:
		return p, k.OpenAI, requireKey(p, k.OpenAI)
	case llm.ProviderGemini:
		return p, k.Gemini, requireKey(p, k.Gemini)
	case llm.ProviderAuto, "":
		switch {
		case k.Anthropic != "":
			return llm.ProviderAnthropic, k.Anthropic, nil
		case k.OpenAI != "":
			return llm.ProviderOpenAI, k.OpenAI, nil
		case k.Gemini != "":
			return llm.ProviderGemini, k.Gemini, nil
		}
		return p, "", ErrNoCredential
	default:
		return p, "", fmt.Errorf("unknown provider %q", p)
	}
}

func requireKey(p llm.Provider, key string) error {
	if key == "" {
		return fmt.Errorf("%s: %w", p, ErrNoCredential)
	}
	return nil
}

// New builds a client for a concrete provider. An empty model selects the
// provider default.
func New(ctx context.Context, p llm.Provider, apiKey, model string) (llm.Client, error) {
	if apiKey == "" {
		return nil, ErrNoCredential
	}
	switch p {
	case llm.ProviderAnthropic:
		return anthropic.New(apiKey, model), nil
	case llm.ProviderOpenAI:
		return openai.New(apiKey, model), nil
	case llm.ProviderGemini:
		return gemini.New(ctx, apiKey, model)
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}
}

// FromKeys resolves a provider from the available keys and builds its client.
func FromKeys(ctx context.Context, keys Keys, p llm.Provider, model string) (llm.Client, llm.Provider, error) {
	resolved, key, err := keys.Resolve(p)
	if err != nil {
		return nil, resolved, err
	}
	client, err := New(ctx, resolved, key, model)
	if err != nil {
		return nil, resolved, err
	}
	return client, resolved, nil
}
