package perception

import (
	"context"
	"strings"

	"patternpress/internal/articulation"
	"patternpress/internal/logging"
)

// Deriver fills prompt templates and sends them through CallWithRetry.
type Deriver struct {
	Client      LLMClient
	Policy      RetryPolicy
	System      string
	MaxTokens   int
	Temperature float64
}

// Derive substitutes subs into template and returns the raw model text.
func (d *Deriver) Derive(ctx context.Context, template string, subs map[string]string) (string, error) {
	prompt := Substitute(template, subs)
	if missing := unfilled(template, subs); len(missing) > 0 {
		logging.APIWarn("Prompt has unfilled placeholders: %s", strings.Join(missing, ", "))
	}
	return CallWithRetry(ctx, d.Client, Request{
		System:      d.System,
		Prompt:      prompt,
		MaxTokens:   d.MaxTokens,
		Temperature: d.Temperature,
	}, d.Policy)
}

// DeriveObject is Derive followed by articulation.ExtractObject. The raw text
// is returned alongside a *articulation.JSONRecoveryError so callers can keep
// it.
func (d *Deriver) DeriveObject(ctx context.Context, template string, subs map[string]string) (map[string]any, string, error) {
	raw, err := d.Derive(ctx, template, subs)
	if err != nil {
		return nil, "", err
	}
	obj, err := articulation.ExtractObject(raw)
	if err != nil {
		return nil, raw, err
	}
	return obj, raw, nil
}

func unfilled(template string, subs map[string]string) []string {
	var missing []string
	for _, name := range Placeholders(template) {
		if _, ok := subs[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
