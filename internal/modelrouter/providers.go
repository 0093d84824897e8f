// ABOUTME: Closed provider catalog with capability table and TOML overrides
// ABOUTME: Capabilities drive configuration-flow branching and credential rules

package modelrouter

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// Provider identifies an LLM provider. The set is closed; unknown strings
// are rejected at every boundary.
type Provider string

// Known providers
const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGroq       Provider = "groq"
	ProviderGemini     Provider = "gemini"
	ProviderCloudflare Provider = "cloudflare"
)

// Capability describes what a provider needs and supports. Adding a
// provider means adding a row here (or in the TOML catalog), nothing else.
type Capability struct {
	DisplayName        string `toml:"display_name"`
	RequiresAccountID  bool   `toml:"requires_account_id"`
	SupportsProjectKey bool   `toml:"supports_project_key"`
	DefaultModelID     string `toml:"default_model_id"`
}

// Catalog is the provider capability table.
type Catalog map[Provider]Capability

// builtinCatalog is the default capability table, used when no TOML
// catalog is configured.
func builtinCatalog() Catalog {
	return Catalog{
		ProviderOpenAI: {
			DisplayName:    "OpenAI",
			DefaultModelID: "gpt-4o-mini",
		},
		ProviderAnthropic: {
			DisplayName:    "Anthropic",
			DefaultModelID: "claude-sonnet-4-20250514",
		},
		ProviderGroq: {
			DisplayName:        "Groq",
			SupportsProjectKey: true,
			DefaultModelID:     "llama-3.1-8b-instant",
		},
		ProviderGemini: {
			DisplayName:        "Google Gemini",
			SupportsProjectKey: true,
			DefaultModelID:     "gemini-2.0-flash",
		},
		ProviderCloudflare: {
			DisplayName:       "Cloudflare Workers AI",
			RequiresAccountID: true,
			DefaultModelID:    "@cf/meta/llama-3.1-8b-instruct",
		},
	}
}

// LoadCatalog returns the builtin catalog, or the catalog parsed from the
// TOML file at path when path is non-empty. The file fully replaces the
// builtin table.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return builtinCatalog(), nil
	}

	var file struct {
		Providers map[string]Capability `toml:"providers"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("parsing provider catalog: %w", err)
	}
	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("provider catalog %s defines no providers", path)
	}

	catalog := make(Catalog, len(file.Providers))
	for name, cap := range file.Providers {
		if cap.DefaultModelID == "" {
			return nil, fmt.Errorf("provider %q is missing default_model_id", name)
		}
		catalog[Provider(name)] = cap
	}

	return catalog, nil
}

// Lookup returns the capability row for a provider.
func (c Catalog) Lookup(p Provider) (Capability, bool) {
	cap, ok := c[p]
	return cap, ok
}

// Names returns the catalog's provider names, sorted for stable prompts.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for p := range c {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}
