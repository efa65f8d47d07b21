package coordinator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/conduit-ai/conduit/internal/config"
	"github.com/conduit-ai/conduit/internal/provider"
)

// isolateEnv keeps ambient credentials and the developer's own config out of
// registry construction.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, name := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "LLM_API_KEY"} {
		t.Setenv(name, "")
	}
}

func TestBuildRegistrySkipsUnconfigured(t *testing.T) {
	isolateEnv(t)

	reg := BuildRegistry(config.DefaultConfig(), config.LoadSecretsFrom(filepath.Join(t.TempDir(), "absent.yaml")))
	if names := reg.Names(); len(names) != 0 {
		t.Errorf("registered %v with nothing configured", names)
	}
}

func TestBuildRegistryRegistersConfigured(t *testing.T) {
	isolateEnv(t)

	cfg := config.DefaultConfig()
	cfg.Providers["openai"] = &config.ProviderConfig{APIKey: "sk-test"}
	cfg.Providers["gateway"] = &config.ProviderConfig{BaseURL: "http://localhost:8787/v1"}
	cfg.Providers["local"] = &config.ProviderConfig{Command: []string{"llama-run"}}

	credPath := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(credPath, []byte("ANTHROPIC_API_KEY: sk-ant-test\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	reg := BuildRegistry(cfg, config.LoadSecretsFrom(credPath))

	// The Responses adapter rides on the shared OpenAI key; Anthropic's key
	// comes from the credentials file.
	for _, name := range []provider.Name{
		provider.NameOpenAI,
		provider.NameResponses,
		provider.NameAnthropic,
		provider.NameGateway,
		provider.NameLocal,
	} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("%s not registered", name)
		}
	}
}

func TestBuildRegistryNilSecrets(t *testing.T) {
	isolateEnv(t)

	cfg := config.DefaultConfig()
	cfg.Providers["openai"] = &config.ProviderConfig{APIKey: "sk-test"}

	reg := BuildRegistry(cfg, nil)
	if _, ok := reg.Get(provider.NameOpenAI); !ok {
		t.Error("openai not registered from config key alone")
	}
	if _, ok := reg.Get(provider.NameAnthropic); ok {
		t.Error("anthropic registered without any key source")
	}
}
