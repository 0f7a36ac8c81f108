package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/jxucoder/promptopt/llm"
	"github.com/jxucoder/promptopt/llm/anthropic"
	"github.com/jxucoder/promptopt/llm/openai"
)

func TestResolveAutoPrefersAnthropic(t *testing.T) {
	p, key, err := Keys{Anthropic: "a", OpenAI: "o"}.Resolve(llm.ProviderAuto)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p != llm.ProviderAnthropic || key != "a" {
		t.Fatalf("unexpected resolution: %s %s", p, key)
	}

	p, _, err = Keys{OpenAI: "o", Gemini: "g"}.Resolve("")
	if err != nil || p != llm.ProviderOpenAI {
		t.Fatalf("expected openai, got %s (%v)", p, err)
	}
}

func TestResolveWithoutKeys(t *testing.T) {
	_, _, err := Keys{}.Resolve(llm.ProviderAuto)
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	_, _, err = Keys{OpenAI: "o"}.Resolve(llm.ProviderGemini)
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential for gemini, got %v", err)
	}
	_, _, err = Keys{OpenAI: "o"}.Resolve("mistral")
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewBuildsConcreteClients(t *testing.T) {
	c, err := New(context.Background(), llm.ProviderOpenAI, "key", "")
	if err != nil {
		t.Fatalf("new openai: %v", err)
	}
	oc, ok := c.(*openai.Client)
	if !ok || oc.Model() != openai.DefaultModel {
		t.Fatalf("unexpected client: %#v", c)
	}

	c, _, err = FromKeys(context.Background(), Keys{Anthropic: "k"}, llm.ProviderAuto, "claude-x")
	if err != nil {
		t.Fatalf("from keys: %v", err)
	}
	if ac, ok := c.(*anthropic.Client); !ok || ac.Model() != "claude-x" {
		t.Fatalf("unexpected client: %#v", c)
	}
}
