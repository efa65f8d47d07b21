package provider

// aliasTable maps short or legacy model names to the full names a backend
// expects. Resolution is a plain lookup: unknown names pass through unchanged
// so newly released models work without a code change.
type aliasTable map[string]string

// Resolve returns the canonical name for model, or model itself when no alias
// is defined. It never fails.
func (t aliasTable) Resolve(model string) string {
	if full, ok := t[model]; ok {
		return full
	}
	return model
}

// merged returns a copy of t with overrides applied on top.
func (t aliasTable) merged(overrides map[string]string) aliasTable {
	out := make(aliasTable, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Built-in alias tables per backend family. Config can extend or override
// these per provider; the tables only cover names stable enough to hardcode.
var (
	openAIAliases = aliasTable{
		"gpt-4o":      "gpt-4o-2024-08-06",
		"gpt-4o-mini": "gpt-4o-mini-2024-07-18",
		"gpt-4.1":     "gpt-4.1-2025-04-14",
		"o3-mini":     "o3-mini-2025-01-31",
	}

	anthropicAliases = aliasTable{
		"claude-sonnet": "claude-sonnet-4-20250514",
		"claude-opus":   "claude-opus-4-20250514",
		"claude-haiku":  "claude-3-5-haiku-20241022",
	}
)
