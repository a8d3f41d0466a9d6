package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// classifyPrompt instructs the model to return exactly the Result shape
// this package decodes; kept minimal since this is a single-turn
// classification call, not a conversation.
const classifyPrompt = `Classify the following browser-automation command. Respond with ONLY a JSON object: {"task_type": one of ["Navigate","Screenshot","Search","Planning","Analysis","Extraction","Monitoring","Testing","Reporting","Interaction","Unknown"], "entities": [{"kind": one of ["domain","query","location","date","raw"], "value": string}], "confidence": number between 0 and 1}.

Command: %s`

// AnthropicConfig configures the Anthropic-backed classifier provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Anthropic implements Classifier via a single non-streaming Messages call,
// asking the model to emit the Result shape directly as JSON.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic builds an Anthropic-backed classifier provider.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("classifier: anthropic API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{client: anthropic.NewClient(opts...), model: model}, nil
}

func (a *Anthropic) Classify(ctx context.Context, rawText string, prior *Context) (Result, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(classifyPrompt, rawText))),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("classifier: anthropic request failed: %w", err)
	}

	text := concatTextBlocks(message)
	result, err := decodeClassifyJSON(text)
	if err != nil {
		return Result{}, fmt.Errorf("classifier: anthropic response decode failed: %w", err)
	}
	return applyConfidenceFloor(result), nil
}

func concatTextBlocks(message *anthropic.Message) string {
	var b strings.Builder
	for _, block := range message.Content {
		if text := block.AsText(); text.Text != "" {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}

// classifyJSON is the wire shape the prompt asks the model to emit.
type classifyJSON struct {
	TaskType   string  `json:"task_type"`
	Confidence float64 `json:"confidence"`
	Entities   []struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	} `json:"entities"`
}

func decodeClassifyJSON(text string) (Result, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return Result{}, fmt.Errorf("no JSON object in response")
	}

	var parsed classifyJSON
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return Result{}, err
	}

	result := Result{
		TaskType:   parseTaskType(parsed.TaskType),
		Confidence: parsed.Confidence,
	}
	for _, e := range parsed.Entities {
		result.Entities = append(result.Entities, Entity{Kind: parseEntityKind(e.Kind), Value: e.Value})
	}
	return result, nil
}

func parseTaskType(s string) TaskType {
	switch strings.ToLower(s) {
	case "navigate":
		return Navigate
	case "screenshot":
		return Screenshot
	case "search":
		return Search
	case "planning":
		return Planning
	case "analysis":
		return Analysis
	case "extraction":
		return Extraction
	case "monitoring":
		return Monitoring
	case "testing":
		return Testing
	case "reporting":
		return Reporting
	case "interaction":
		return Interaction
	default:
		return Unknown
	}
}

func parseEntityKind(s string) EntityKind {
	switch strings.ToLower(s) {
	case "domain":
		return EntityDomain
	case "query":
		return EntityQuery
	case "location":
		return EntityLocation
	case "date":
		return EntityDate
	default:
		return EntityRaw
	}
}
