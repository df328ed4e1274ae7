package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/heal-orchestrator/internal/language"
)

// Profiles returns a language registry with the [languages] overrides applied
func (c *Config) Profiles() (*language.Registry, error) {
	reg := language.NewRegistry()
	for name, o := range c.Languages {
		l := language.Parse(name)
		if l == language.Unknown {
			return nil, fmt.Errorf("languages.%s: unknown language", name)
		}
		if err := reg.Override(l, o.Install, o.Test); err != nil {
			return nil, fmt.Errorf("languages.%s: %w", name, err)
		}
	}
	return reg, nil
}

// MarshalLanguages renders only the [languages] section, for handing the
// overrides to a runner container.
func (c *Config) MarshalLanguages() ([]byte, error) {
	return toml.Marshal(struct {
		Languages map[string]LanguageOverride `toml:"languages"`
	}{c.Languages})
}
