package planner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/basket/actionbridge/internal/protocol"
)

const plannerSystemPrompt = `You translate a phone notification into at most one proposed action.
Respond with a single JSON object and nothing else:
{"intent": "...", "confidence": 0.0-1.0, "riskTier": "low|medium|high|critical",
 "summary": "...", "parameters": {...}, "steps": ["..."]}
Allowed intents: send_message, call_number, summarize_call, open_app, info_response.
Use info_response when no device action is warranted. Never invent contact details
that are not present in the notification.`

// GenkitConfig selects the provider backing the generator.
type GenkitConfig struct {
	Provider string
	Model    string
	APIKey   string
}

// GenkitPlanner generates plans with a hosted LLM via Genkit. When no API key
// is configured it falls back to deterministic rules so the pipeline stays
// usable offline.
type GenkitPlanner struct {
	g        *genkit.Genkit
	model    string
	provider string
	llmOn    bool
	fallback *RulePlanner
}

// NewGenkitPlanner initializes Genkit with the configured provider.
// Supports: google (Gemini), anthropic (Claude).
func NewGenkitPlanner(ctx context.Context, cfg GenkitConfig) *GenkitPlanner {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	modelID := strings.TrimSpace(cfg.Model)
	apiKey := strings.TrimSpace(cfg.APIKey)

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if modelID == "" {
			modelID = "claude-sonnet-4-5"
		}
		if apiKey != "" {
			anthropicPlugin := &anthropic.Anthropic{APIKey: apiKey}
			g = genkit.Init(ctx, genkit.WithPlugins(anthropicPlugin))
			llmOn = true
			slog.Info("planner initialized", "provider", "anthropic", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Anthropic API key missing; using rule planner")
		}

	case "google", "":
		if modelID == "" {
			modelID = "gemini-2.5-flash"
		}
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+modelID),
			)
			llmOn = true
			slog.Info("planner initialized", "provider", "google", "model", "googleai/"+modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Google API key missing; using rule planner")
		}

	default:
		g = genkit.Init(ctx)
		slog.Warn("unknown planner provider, using rule planner", "provider", provider)
	}

	return &GenkitPlanner{
		g:        g,
		model:    modelID,
		provider: provider,
		llmOn:    llmOn,
		fallback: NewRulePlanner(),
	}
}

// Plan asks the model for a plan and screens its output shape.
func (p *GenkitPlanner) Plan(ctx context.Context, n protocol.Notification) (protocol.Proposal, error) {
	if !p.llmOn {
		return p.fallback.Plan(ctx, n)
	}

	prompt := fmt.Sprintf("Notification from %s (%s):\nSender: %s\nMessage: %s",
		n.Source, n.Mode, n.Sender, n.Message)

	modelName := p.modelName()
	resp, err := genkit.Generate(ctx, p.g,
		ai.WithModelName(modelName),
		ai.WithSystem(plannerSystemPrompt),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return protocol.Proposal{}, &UpstreamError{Op: "generate", Err: err}
	}

	plan, err := parsePlanJSON(resp.Text())
	if err != nil {
		return protocol.Proposal{}, err
	}
	return plan, nil
}

func (p *GenkitPlanner) modelName() string {
	switch p.provider {
	case "anthropic":
		return "anthropic/" + p.model
	default:
		return "googleai/" + p.model
	}
}
