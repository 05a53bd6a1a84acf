package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lyzr/minutes/common/apperrors"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Prompts is the catalog of summarization instructions.
type Prompts struct {
	SystemInstruction string            `yaml:"system_instruction"`
	DefaultPrompt     string            `yaml:"default_prompt"`
	Presets           map[string]string `yaml:"presets"`
}

// LoadPrompts reads the catalog from path, or the embedded default when path is empty.
// Fields missing from a custom file fall back to the embedded values.
func LoadPrompts(path string) (*Prompts, error) {
	base, err := parsePrompts(defaultPromptsYAML)
	if err != nil {
		return nil, configErr(fmt.Sprintf("embedded prompts: %v", err))
	}
	if path == "" {
		return base, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, configErr(fmt.Sprintf("read prompts file %s: %v", path, err))
	}
	custom, err := parsePrompts(raw)
	if err != nil {
		return nil, configErr(fmt.Sprintf("parse prompts file %s: %v", path, err))
	}

	if custom.SystemInstruction != "" {
		base.SystemInstruction = custom.SystemInstruction
	}
	if custom.DefaultPrompt != "" {
		base.DefaultPrompt = custom.DefaultPrompt
	}
	for name, text := range custom.Presets {
		base.Presets[name] = text
	}
	return base, nil
}

func parsePrompts(raw []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	p.SystemInstruction = strings.TrimSpace(p.SystemInstruction)
	p.DefaultPrompt = strings.TrimSpace(p.DefaultPrompt)
	if p.Presets == nil {
		p.Presets = map[string]string{}
	}
	return &p, nil
}

// Resolve picks the user prompt: an explicit prompt wins, then a named preset.
// It returns "" when neither is given so callers can apply their own fallback.
func (p *Prompts) Resolve(prompt, preset string) (string, error) {
	if prompt = strings.TrimSpace(prompt); prompt != "" {
		return prompt, nil
	}
	if preset = strings.TrimSpace(preset); preset == "" {
		return "", nil
	}
	text, ok := p.Presets[preset]
	if !ok {
		return "", apperrors.Wrap(apperrors.ErrValidation, "prompts", "resolve",
			fmt.Sprintf("unknown preset %q (known: %s)", preset, strings.Join(p.PresetNames(), ", ")), nil)
	}
	return strings.TrimSpace(text), nil
}

// PresetNames returns the preset names in sorted order.
func (p *Prompts) PresetNames() []string {
	names := make([]string, 0, len(p.Presets))
	for name := range p.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
