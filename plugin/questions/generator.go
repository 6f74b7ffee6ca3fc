// Package questions generates interview preparation material and
// post-session analysis with an LLM.
package questions

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

// Prep is the prepared material for a session: an ordered question list and
// a research summary distilled from the supplied background materials.
type Prep struct {
	Questions       []string `json:"questions"`
	ResearchSummary string   `json:"research_summary"`
}

// Generator produces session prep and post-session analysis.
type Generator interface {
	// Generate prepares questions and a research summary for a topic.
	// Materials is free-form background text and may be empty.
	Generate(ctx context.Context, topic, materials string) (*Prep, error)

	// Summarize produces a post-session analysis from the final transcript.
	Summarize(ctx context.Context, topic, transcript string) (string, error)
}

// Config holds LLM connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// LLMGenerator is the production Generator backed by a chat-completion API.
type LLMGenerator struct {
	client *openai.Client
	model  string
}

func NewLLMGenerator(cfg Config) *LLMGenerator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMGenerator{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}
}

const prepSystemPrompt = `You prepare voice interviews. Given a topic and optional background
materials, produce 6 to 10 open questions ordered from warm-up to depth,
and a short research summary the interviewer can glance at.

Respond with JSON: {"questions": [...], "research_summary": "..."}`

// Generate prepares questions and a research summary for the topic.
func (g *LLMGenerator) Generate(ctx context.Context, topic, materials string) (*Prep, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var user strings.Builder
	fmt.Fprintf(&user, "Topic: %s\n", topic)
	if materials != "" {
		fmt.Fprintf(&user, "\nBackground materials:\n%s\n", materials)
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.7,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prepSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("prep generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from llm")
	}

	prep, err := parsePrep(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	slog.Info("session prep generated",
		"topic", topic,
		"questions", len(prep.Questions),
		"latency_ms", time.Since(start).Milliseconds(),
		"tokens", resp.Usage.TotalTokens)
	return prep, nil
}

const analysisSystemPrompt = `You analyze finished voice interviews. Given the topic and the final
transcript, write a concise analysis: the strongest moments, the themes
that emerged, and quotes worth pulling. Plain prose, no preamble.`

// Summarize produces the post-session analysis from the final transcript.
func (g *LLMGenerator) Summarize(ctx context.Context, topic, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Topic: %s\n\nTranscript:\n%s", topic, transcript)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("analysis generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from llm")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func parsePrep(content string) (*Prep, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		re := regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
		matches := re.FindStringSubmatch(content)
		if len(matches) > 1 {
			content = matches[1]
		}
	}

	var prep Prep
	if err := json.Unmarshal([]byte(content), &prep); err != nil {
		return nil, fmt.Errorf("parse prep failed: %w", err)
	}
	if len(prep.Questions) == 0 {
		return nil, fmt.Errorf("prep contains no questions")
	}
	return &prep, nil
}
