package coordinator

import (
	"github.com/conduit-ai/conduit/internal/config"
	"github.com/conduit-ai/conduit/internal/provider"
)

// BuildRegistry constructs adapters for every backend whose configuration is
// complete and registers them. Backends missing credentials are skipped, not
// failed: the gap surfaces on first use, as a gateway fallback or a
// configuration error.
func BuildRegistry(cfg *config.Config, secrets *config.Secrets) *provider.Registry {
	defaults := config.LoadProviderDefaults()
	reg := provider.NewRegistry()

	oa := effectiveProvider(cfg, defaults, string(provider.NameOpenAI))
	oaKey := firstNonEmpty(oa.apiKey, secretValue(secrets, "OPENAI_API_KEY"))
	if a, err := provider.NewOpenAIAdapter(provider.OpenAIOptions{
		APIKey:       oaKey,
		BaseURL:      oa.baseURL,
		DefaultModel: oa.model,
		Aliases:      oa.aliases,
	}); err == nil {
		reg.Register(a)
	}

	// The Responses dialect shares the family API key unless given its own.
	rs := effectiveProvider(cfg, defaults, string(provider.NameResponses))
	if a, err := provider.NewResponsesAdapter(provider.ResponsesOptions{
		APIKey:       firstNonEmpty(rs.apiKey, oaKey),
		BaseURL:      rs.baseURL,
		DefaultModel: rs.model,
		Aliases:      rs.aliases,
	}); err == nil {
		reg.Register(a)
	}

	an := effectiveProvider(cfg, defaults, string(provider.NameAnthropic))
	if a, err := provider.NewAnthropicAdapter(provider.AnthropicOptions{
		APIKey:       firstNonEmpty(an.apiKey, secretValue(secrets, "ANTHROPIC_API_KEY")),
		BaseURL:      an.baseURL,
		DefaultModel: an.model,
		Aliases:      an.aliases,
	}); err == nil {
		reg.Register(a)
	}

	gw := effectiveProvider(cfg, defaults, string(provider.NameGateway))
	if a, err := provider.NewGatewayAdapter(provider.GatewayOptions{
		BaseURL:      gw.baseURL,
		DefaultModel: gw.model,
		Aliases:      gw.aliases,
	}); err == nil {
		reg.Register(a)
	}

	lc := effectiveProvider(cfg, defaults, string(provider.NameLocal))
	if a, err := provider.NewLocalAdapter(provider.LocalOptions{
		Command:      lc.command,
		DefaultModel: lc.model,
		Aliases:      lc.aliases,
	}); err == nil {
		reg.Register(a)
	}

	return reg
}

// effective is a provider's settings after overlaying the user config on the
// embedded defaults.
type effective struct {
	apiKey  string
	baseURL string
	model   string
	command []string
	aliases map[string]string
}

func effectiveProvider(cfg *config.Config, defaults map[string]config.ProviderDefaults, name string) effective {
	var e effective
	if d, ok := defaults[name]; ok {
		e.baseURL = d.BaseURL
		e.model = d.DefaultModel
		e.aliases = d.Aliases
	}
	pc := cfg.GetProviderConfig(name)
	if pc.APIKey != "" {
		e.apiKey = pc.APIKey
	}
	if pc.BaseURL != "" {
		e.baseURL = pc.BaseURL
	}
	if pc.Model != "" {
		e.model = pc.Model
	}
	if len(pc.Command) > 0 {
		e.command = pc.Command
	}
	return e
}

func secretValue(s *config.Secrets, name string) string {
	if s == nil {
		return ""
	}
	v, _ := s.Get(name)
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
