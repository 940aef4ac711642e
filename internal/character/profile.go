package character

import (
	"fmt"
)

// Profile describes one playable character, loaded from a YAML file in
// the characters directory. The file name (minus extension) is the
// profile id unless the file sets one explicitly.
type Profile struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Personality string            `yaml:"personality" json:"personality"`
	Greeting    string            `yaml:"greeting" json:"greeting,omitempty"`
	VoiceRole   string            `yaml:"voice_role" json:"voice_role,omitempty"`
	ImageDir    string            `yaml:"image_dir" json:"image_dir,omitempty"`
	Prompts     map[string]string `yaml:"prompts" json:"-"`
}

// DefaultVariant names the prompt variant used when none is requested.
const DefaultVariant = "character"

// SystemPrompt renders the system prompt for the named variant. The
// "character" variant has a built-in rendering from the profile fields;
// other variants must be declared in the profile's prompts map.
func (p *Profile) SystemPrompt(variant string) (string, error) {
	if variant == "" {
		variant = DefaultVariant
	}
	if prompt, ok := p.Prompts[variant]; ok {
		return prompt, nil
	}
	if variant == DefaultVariant {
		return fmt.Sprintf(
			"You are %s. %s Your personality traits are: %s. Stay in character, be concise and engaging.",
			p.Name, p.Description, p.Personality,
		), nil
	}
	return "", fmt.Errorf("profile %q has no prompt variant %q", p.ID, variant)
}
