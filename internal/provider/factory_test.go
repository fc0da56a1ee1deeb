package provider

import (
	"testing"

	"chaperone/internal/config"
)

func factoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.General.DefaultProvider = "ollama"
	cfg.Providers = map[string]config.ProviderConfig{
		"ollama":   {Enabled: true},
		"openai":   {Enabled: true, APIKey: "sk-test"},
		"disabled": {Enabled: false, APIBase: "https://x.example", APIKey: "k"},
		"compat":   {Enabled: true, APIBase: "https://llm.example/v1", APIKey: "k"},
		"bare":     {Enabled: true},
	}
	return cfg
}

func TestFactory_GetCachesInstances(t *testing.T) {
	f := NewFactory(factoryConfig(), testLogger())

	p1, err := f.Get("ollama")
	if err != nil {
		t.Fatalf("get ollama: %v", err)
	}
	p2, err := f.Get("ollama")
	if err != nil {
		t.Fatalf("get ollama again: %v", err)
	}
	if p1 != p2 {
		t.Fatal("expected cached instance on second Get")
	}
}

func TestFactory_EmptyNameUsesDefault(t *testing.T) {
	f := NewFactory(factoryConfig(), testLogger())

	p, err := f.Get("")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if p.Name() != "ollama" {
		t.Fatalf("expected default ollama, got %q", p.Name())
	}
}

func TestFactory_UnknownProvider(t *testing.T) {
	f := NewFactory(factoryConfig(), testLogger())
	if _, err := f.Get("nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestFactory_DisabledProvider(t *testing.T) {
	f := NewFactory(factoryConfig(), testLogger())
	if _, err := f.Get("disabled"); err == nil {
		t.Fatal("expected error for disabled provider")
	}
}

func TestFactory_UnregisteredNameFallsBackToOpenAICompatible(t *testing.T) {
	f := NewFactory(factoryConfig(), testLogger())

	p, err := f.Get("compat")
	if err != nil {
		t.Fatalf("get compat: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected openai-compatible provider, got %q", p.Name())
	}
}

func TestFactory_UnregisteredNameWithoutCredentials(t *testing.T) {
	f := NewFactory(factoryConfig(), testLogger())
	delete(f.constructors, "bare")
	if _, err := f.Get("bare"); err == nil {
		t.Fatal("expected error when no constructor and no credentials")
	}
}
