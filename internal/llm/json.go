package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/resilience"
	"github.com/sells-group/dupe-finder/pkg/anthropic"
	"github.com/sells-group/dupe-finder/pkg/openai"
)

// cleanJSON strips markdown fences and extracts the outermost JSON object
// or array.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	opener, closer := "{", "}"
	if obj, arr := strings.Index(text, "{"), strings.Index(text, "["); arr >= 0 && (obj < 0 || arr < obj) {
		opener, closer = "[", "]"
	}
	start := strings.Index(text, opener)
	end := strings.LastIndex(text, closer)
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// decode parses raw into out. Malformed JSON gets one structured repair call
// before it is reported as a parse failure.
func (a *Adapter) decode(ctx context.Context, stage, raw string, out any) error {
	err := json.Unmarshal([]byte(cleanJSON(raw)), out)
	if err == nil {
		return nil
	}
	zap.L().Warn("llm: malformed json, attempting repair",
		zap.String("stage", stage),
		zap.Int("length", len(raw)),
		zap.Error(err),
	)

	fixed, rerr := a.repair(ctx, raw)
	if rerr != nil {
		return eris.Wrapf(rerr, "llm: %s: repair json", stage)
	}
	if err := json.Unmarshal([]byte(cleanJSON(fixed)), out); err != nil {
		return eris.Wrapf(err, "llm: %s: parse repaired json", stage)
	}
	return nil
}

// repair asks Anthropic to fix the document when configured, else OpenAI in
// JSON mode.
func (a *Adapter) repair(ctx context.Context, raw string) (string, error) {
	p := a.prompts[StageRepair]
	system, user, err := p.Render(struct{ Raw string }{Raw: raw})
	if err != nil {
		return "", err
	}

	if a.repairer != nil {
		temp := float64(p.Temperature)
		resp, err := resilience.Call(ctx, a.repairGuard, "repair", true, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return a.repairer.CreateMessage(ctx, anthropic.MessageRequest{
				Model:       a.repairModel,
				MaxTokens:   int64(p.MaxTokens),
				System:      system,
				Messages:    []anthropic.Message{{Role: "user", Content: user}},
				Temperature: &temp,
			})
		})
		if err != nil {
			return "", err
		}
		resp.Usage.Log(a.repairModel, StageRepair)
		return resp.Text(), nil
	}

	resp, err := a.chat(ctx, StageRepair, openai.ChatRequest{
		System:      system,
		User:        user,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
