package llm

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Stage names in the prompt catalog.
const (
	StageIdentify      = "identify"
	StageIdentifyImage = "identify_image"
	StageCompare       = "compare"
	StageBrand         = "brand"
	StageIngredient    = "ingredient"
	StageIngredients   = "ingredients"
	StageReviews       = "reviews"
	StageResources     = "resources"
	StageRepair        = "repair"
)

var requiredStages = []string{
	StageIdentify, StageIdentifyImage, StageCompare, StageBrand, StageIngredient,
	StageIngredients, StageReviews, StageResources, StageRepair,
}

type promptSpec struct {
	Temperature float32        `yaml:"temperature"`
	MaxTokens   int            `yaml:"max_tokens"`
	System      string         `yaml:"system"`
	User        string         `yaml:"user"`
	Schema      map[string]any `yaml:"schema"`
}

// Prompt is a parsed catalog entry.
type Prompt struct {
	Temperature float32
	MaxTokens   int
	Schema      json.RawMessage

	system *template.Template
	user   *template.Template
}

// Render executes the system and user templates against data.
func (p *Prompt) Render(data any) (system, user string, err error) {
	var sb, ub strings.Builder
	if err := p.system.Execute(&sb, data); err != nil {
		return "", "", eris.Wrap(err, "llm: render system prompt")
	}
	if err := p.user.Execute(&ub, data); err != nil {
		return "", "", eris.Wrap(err, "llm: render user prompt")
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(ub.String()), nil
}

// Prompts is the stage → prompt catalog.
type Prompts map[string]*Prompt

var funcs = template.FuncMap{"join": strings.Join}

// LoadPrompts reads a catalog from path, or the embedded default when path
// is empty.
func LoadPrompts(path string) (Prompts, error) {
	data := defaultPrompts
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "llm: read prompts %s", path)
		}
		data = b
	}
	return ParsePrompts(data)
}

// ParsePrompts parses a YAML catalog and checks every stage is present.
func ParsePrompts(data []byte) (Prompts, error) {
	var specs map[string]promptSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, eris.Wrap(err, "llm: parse prompts yaml")
	}

	out := make(Prompts, len(specs))
	for name, s := range specs {
		p := &Prompt{Temperature: s.Temperature, MaxTokens: s.MaxTokens}
		var err error
		if p.system, err = template.New(name + ".system").Funcs(funcs).Parse(s.System); err != nil {
			return nil, eris.Wrapf(err, "llm: parse %s system template", name)
		}
		if p.user, err = template.New(name + ".user").Funcs(funcs).Parse(s.User); err != nil {
			return nil, eris.Wrapf(err, "llm: parse %s user template", name)
		}
		if s.Schema != nil {
			if p.Schema, err = json.Marshal(s.Schema); err != nil {
				return nil, eris.Wrapf(err, "llm: encode %s schema", name)
			}
		}
		out[name] = p
	}

	for _, name := range requiredStages {
		if _, ok := out[name]; !ok {
			return nil, eris.Errorf("llm: prompt catalog missing stage %q", name)
		}
	}
	return out, nil
}
