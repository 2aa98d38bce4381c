// Package keywords produces ranked ASO keyword lists through the Anthropic
// Messages API.
package keywords

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/appsight/aso-pipeline/internal/aso"
	"github.com/appsight/aso-pipeline/internal/metrics"
)

// Config controls the generative call.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	MinKeywords int
	// ScreenshotCap bounds how many screenshots are attached to one request.
	ScreenshotCap int
}

const (
	defaultModel         = "claude-3-5-sonnet-20241022"
	defaultMaxTokens     = 2000
	defaultTemperature   = 0.3
	defaultMinKeywords   = 15
	defaultScreenshotCap = 4

	toolName = "generate_app_keywords"
)

// messageAPI is the slice of the Anthropic client the generator needs; tests
// substitute a fake.
type messageAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Generator implements aso.KeywordModel.
type Generator struct {
	messages messageAPI
	images   aso.ImageFetcher
	cfg      Config
	clock    aso.Clock
	logger   *zap.Logger
}

// New builds a Generator backed by the Anthropic API.
func New(apiKey string, cfg Config, images aso.ImageFetcher, clock aso.Clock, logger *zap.Logger) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newWithAPI(&client.Messages, cfg, images, clock, logger), nil
}

func newWithAPI(messages messageAPI, cfg Config, images aso.ImageFetcher, clock aso.Clock, logger *zap.Logger) *Generator {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MinKeywords <= 0 {
		cfg.MinKeywords = defaultMinKeywords
	}
	if cfg.ScreenshotCap <= 0 {
		cfg.ScreenshotCap = defaultScreenshotCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{messages: messages, images: images, cfg: cfg, clock: clock, logger: logger}
}

// toolInput is the structured shape the model must return.
type toolInput struct {
	Keywords []string `json:"keywords"`
}

// Generate builds a text+image request for one app and returns the model's
// ranked keyword list. An empty keyword array from a successful call is a
// hard failure, never a valid answer.
func (g *Generator) Generate(ctx context.Context, app aso.AppRecord) (aso.KeywordSet, error) {
	const op = "keywords.Generate"

	if app.Title == "" {
		return aso.KeywordSet{}, aso.E(aso.KindValidation, op, "app record is missing a title", nil)
	}
	if app.Description == "" {
		return aso.KeywordSet{}, aso.E(aso.KindValidation, op, "app record is missing a description", nil)
	}

	content := []anthropic.ContentBlockParamUnion{
		anthropic.NewTextBlock(g.buildPrompt(app)),
	}
	imgs := g.images.FetchAll(ctx, app.Screenshots, g.cfg.ScreenshotCap)
	for _, img := range imgs {
		encoded := base64.StdEncoding.EncodeToString(img.Data)
		content = append(content, anthropic.NewImageBlockBase64(img.MediaType, encoded))
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.cfg.Model),
		MaxTokens:   int64(g.cfg.MaxTokens),
		Temperature: anthropic.Float(g.cfg.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(content...),
		},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        toolName,
				Description: anthropic.String("Returns relevant app store search keywords for the supplied app, ordered by estimated search value."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type: "object",
					Properties: map[string]any{
						"keywords": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"description": "Ordered array of relevant search keywords, most valuable first.",
						},
					},
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Type: "tool", Name: toolName},
		},
	}

	start := time.Now()
	resp, err := g.messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		classified := classifyModelError(op, err)
		metrics.ObserveModelCall(metrics.Outcome(classified))
		metrics.ObserveUpstream("model", metrics.Outcome(classified), duration)
		return aso.KeywordSet{}, classified
	}
	metrics.ObserveModelCall("ok")
	metrics.ObserveUpstream("model", "ok", duration)

	input, err := extractToolInput(resp)
	if err != nil {
		return aso.KeywordSet{}, aso.E(aso.KindMalformed, op, "model response lacked a structured keyword list", err)
	}
	if len(input.Keywords) == 0 {
		return aso.KeywordSet{}, aso.E(aso.KindNoKeywords, op, "model returned an empty keyword list", nil)
	}
	if len(input.Keywords) < g.cfg.MinKeywords {
		g.logger.Warn("model returned fewer keywords than requested",
			zap.String("app", app.Title),
			zap.Int("got", len(input.Keywords)),
			zap.Int("requested", g.cfg.MinKeywords),
		)
	}

	set := aso.KeywordSet{
		AppTitle:    app.Title,
		Keywords:    input.Keywords,
		Model:       string(resp.Model),
		GeneratedAt: g.clock.Now(),
		Duration:    duration,
	}
	g.logger.Info("keywords generated",
		zap.String("app", app.Title),
		zap.Int("count", set.Count()),
		zap.Int("images", len(imgs)),
		zap.String("model", set.Model),
		zap.Duration("dur", duration),
	)
	return set, nil
}

func (g *Generator) buildPrompt(app aso.AppRecord) string {
	genres := ""
	for i, genre := range app.Genres {
		if i > 0 {
			genres += ", "
		}
		genres += genre
	}
	return fmt.Sprintf(`Analyze this app store listing and identify the search keywords users would actually type to find this app.

Title: %s

Genres: %s

Description: %s

Screenshots of the store page follow. Only return exact search phrases directly supported by the title, description and screenshots; exclude long-tail phrases, "<something> app" phrases, and anything a real user would not search for. Every keyword must be clearly relevant to all of the provided material. Order the keywords by estimated search value, most valuable first, and return at least %d of them.

Respond with the %s tool.`, app.Title, genres, app.Description, g.cfg.MinKeywords, toolName)
}

func extractToolInput(resp *anthropic.Message) (toolInput, error) {
	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != toolName {
			continue
		}
		var input toolInput
		if err := json.Unmarshal(block.Input, &input); err != nil {
			return toolInput{}, fmt.Errorf("decode tool input: %w", err)
		}
		return input, nil
	}
	return toolInput{}, fmt.Errorf("no %s tool call in response", toolName)
}

func classifyModelError(op string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return aso.E(aso.KindAuth, op, "model credentials rejected", err)
		case apiErr.StatusCode == http.StatusPaymentRequired:
			return aso.E(aso.KindQuota, op, "model quota exceeded", err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return aso.E(aso.KindRateLimit, op, "model rate limit exceeded", err)
		case apiErr.StatusCode >= 500:
			return aso.E(aso.KindUpstream, op, "model service error", err)
		default:
			return aso.E(aso.KindUpstream, op, fmt.Sprintf("model returned status %d", apiErr.StatusCode), err)
		}
	}
	return aso.E(aso.KindUpstream, op, "model unreachable", err)
}
