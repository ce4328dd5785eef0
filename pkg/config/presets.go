package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset keys shipped with modelpin.
const (
	PresetFast     = "fast"
	PresetThinking = "thinking"
	PresetPro      = "pro"

	// PresetCustom carries no wording of its own; the stored
	// name and description are used as entered.
	PresetCustom = "custom"
)

// Preset is a named bundle of target name and description.
type Preset struct {
	Key         string `yaml:"key"`
	Label       string `yaml:"label"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// IsCustom reports whether the preset is the freeform slot.
func (p Preset) IsCustom() bool {
	return p.Key == PresetCustom
}

// Catalog is an ordered set of presets with a designated default.
type Catalog struct {
	presets    []Preset
	defaultKey string
}

// BuiltinCatalog returns the presets matching the current host wording.
func BuiltinCatalog() *Catalog {
	return &Catalog{
		presets: []Preset{
			{Key: PresetFast, Label: "Fast", Name: "Fast", Description: "Answers quickly"},
			{Key: PresetThinking, Label: "Thinking", Name: "Thinking", Description: "Solves complex problems"},
			{Key: PresetPro, Label: "Pro", Name: "Pro", Description: "Advanced math and code with 3.1 Pro"},
			{Key: PresetCustom, Label: "Custom"},
		},
		defaultKey: PresetPro,
	}
}

type catalogFile struct {
	Default string   `yaml:"default"`
	Presets []Preset `yaml:"presets"`
}

// LoadCatalog reads a YAML preset catalog. The custom preset is always
// available even when the file does not list it.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML preset catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode preset catalog: %w", err)
	}

	c := &Catalog{defaultKey: strings.TrimSpace(file.Default)}
	seen := make(map[string]bool, len(file.Presets))
	for _, p := range file.Presets {
		p.Key = strings.TrimSpace(p.Key)
		if p.Key == "" {
			return nil, fmt.Errorf("preset without key")
		}
		if seen[p.Key] {
			return nil, fmt.Errorf("duplicate preset %q", p.Key)
		}
		if p.Key != PresetCustom && strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("preset %q has no name", p.Key)
		}
		if p.Label == "" {
			p.Label = p.Name
		}
		seen[p.Key] = true
		c.presets = append(c.presets, p)
	}
	if !seen[PresetCustom] {
		c.presets = append(c.presets, Preset{Key: PresetCustom, Label: "Custom"})
	}

	if c.defaultKey == "" {
		c.defaultKey = c.presets[0].Key
	}
	def, ok := c.Lookup(c.defaultKey)
	if !ok {
		return nil, fmt.Errorf("default preset %q is not defined", c.defaultKey)
	}
	if def.IsCustom() {
		return nil, fmt.Errorf("default preset cannot be %q", PresetCustom)
	}

	return c, nil
}

// Presets returns the presets in catalog order.
func (c *Catalog) Presets() []Preset {
	out := make([]Preset, len(c.presets))
	copy(out, c.presets)
	return out
}

// Lookup finds a preset by key.
func (c *Catalog) Lookup(key string) (Preset, bool) {
	for _, p := range c.presets {
		if p.Key == key {
			return p, true
		}
	}
	return Preset{}, false
}

// Default returns the fallback preset.
func (c *Catalog) Default() Preset {
	p, _ := c.Lookup(c.defaultKey)
	return p
}

// Infer maps a stored target name back onto a preset. Matching ignores
// case and surrounding or repeated whitespace but is otherwise exact.
func (c *Catalog) Infer(name string) (Preset, bool) {
	want := normalizeName(name)
	if want == "" {
		return Preset{}, false
	}
	for _, p := range c.presets {
		if p.IsCustom() {
			continue
		}
		if normalizeName(p.Name) == want {
			return p, true
		}
	}
	return Preset{}, false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
