// Package llm defines the text-generation backend boundary.
package llm

import "context"

// Client completes a single system + user exchange and returns the raw text.
// Implementations hold no conversation state between calls.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Provider names a backend implementation.
type Provider string

const (
	ProviderAuto      Provider = "auto"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Valid reports whether p is a known provider name.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAuto, ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		return true
	}
	return false
}
