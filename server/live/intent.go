package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ControlIntent is a spoken in-session command recognized from final guest
// utterances. Anything not recognized is IntentNone and flows through as
// ordinary conversation.
type ControlIntent string

const (
	IntentNone     ControlIntent = "none"
	IntentSlowDown ControlIntent = "slow_down"
	IntentSpeedUp  ControlIntent = "speed_up"
	IntentStrike   ControlIntent = "strike"
)

// Classifier recognizes control intents in guest speech.
type Classifier interface {
	Classify(ctx context.Context, input string) (ControlIntent, error)
}

// RuleClassifier is the deterministic keyword matcher. It is both the
// default classifier and the fallback when the LLM path fails.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

var intentPhrases = []struct {
	intent  ControlIntent
	phrases []string
}{
	{IntentStrike, []string{"scratch that", "strike that", "forget i said that", "don't use that", "off the record"}},
	{IntentSlowDown, []string{"slow down", "bit slower", "too fast", "speak slower"}},
	{IntentSpeedUp, []string{"speed up", "bit faster", "too slow", "speak faster"}},
}

// Classify matches known phrases case-insensitively. Never returns an error.
func (c *RuleClassifier) Classify(_ context.Context, input string) (ControlIntent, error) {
	lowered := strings.ToLower(input)
	for _, group := range intentPhrases {
		for _, phrase := range group.phrases {
			if strings.Contains(lowered, phrase) {
				return group.intent, nil
			}
		}
	}
	return IntentNone, nil
}

// LLMClassifier uses a lightweight LLM for intent classification. This
// catches phrasings the keyword rules miss. On any failure it falls back to
// the rule classifier, so a degraded LLM never blocks the session.
type LLMClassifier struct {
	client *openai.Client
	model  string

	fallback *RuleClassifier
}

// LLMClassifierConfig holds configuration for the LLM classifier.
type LLMClassifierConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

func NewLLMClassifier(cfg LLMClassifierConfig) *LLMClassifier {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMClassifier{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    model,
		fallback: NewRuleClassifier(),
	}
}

// Classify determines the control intent of the utterance using the LLM,
// falling back to keyword rules on failure.
func (c *LLMClassifier) Classify(ctx context.Context, input string) (ControlIntent, error) {
	intent, err := c.classifyLLM(ctx, input)
	if err != nil {
		slog.Warn("llm intent classification failed, using rule fallback",
			"error", err,
			"input", truncateForLog(input, 50))
		return c.fallback.Classify(ctx, input)
	}
	return intent, nil
}

func (c *LLMClassifier) classifyLLM(ctx context.Context, input string) (ControlIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   30,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: intentSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Guest said: %s", input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "control_intent",
				Strict: true,
				Schema: intentJSONSchema,
			},
		},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return IntentNone, fmt.Errorf("llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return IntentNone, fmt.Errorf("empty response from llm")
	}

	intent, err := parseIntentResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return IntentNone, err
	}

	slog.Debug("llm intent classification completed",
		"input", truncateForLog(input, 30),
		"intent", intent,
		"latency_ms", time.Since(start).Milliseconds())
	return intent, nil
}

func parseIntentResponse(content string) (ControlIntent, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		re := regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
		matches := re.FindStringSubmatch(content)
		if len(matches) > 1 {
			content = matches[1]
		}
	}

	var raw struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return IntentNone, fmt.Errorf("json unmarshal failed: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(raw.Intent)) {
	case "slow_down":
		return IntentSlowDown, nil
	case "speed_up":
		return IntentSpeedUp, nil
	case "strike":
		return IntentStrike, nil
	case "none":
		return IntentNone, nil
	default:
		slog.Warn("unknown intent from llm, defaulting to none", "raw_intent", raw.Intent)
		return IntentNone, nil
	}
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

const intentSystemPrompt = `Classify whether the interview guest is issuing a control command.

slow_down: asking the interviewer to speak slower
speed_up: asking the interviewer to speak faster
strike: asking to retract or strike what they just said
none: ordinary conversation

Default: none`

var intentJSONSchema = &jsonSchema{
	Type: "object",
	Properties: map[string]*jsonSchema{
		"intent": {
			Type:        "string",
			Enum:        []string{"slow_down", "speed_up", "strike", "none"},
			Description: "The classified control intent",
		},
	},
	Required:             []string{"intent"},
	AdditionalProperties: false,
}

// jsonSchema implements json.Marshaler for OpenAI's JSON Schema format.
type jsonSchema struct {
	Type                 string                 `json:"type"`
	Properties           map[string]*jsonSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
	Description          string                 `json:"description,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

func (s *jsonSchema) MarshalJSON() ([]byte, error) {
	type alias jsonSchema
	return json.Marshal((*alias)(s))
}
