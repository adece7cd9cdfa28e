// Package highlight generates the post-meeting summary from the full
// transcript text. Generation runs with a bounded timeout and failure never
// blocks transcript finalization; a heuristic fallback is substituted.
package highlight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
)

// FallbackNotice marks a summary produced without the generator.
const FallbackNotice = "AI analysis temporarily unavailable"

// Highlights is the structured result of summary generation.
type Highlights struct {
	Summary     string   `json:"summary"`
	Highlights  []string `json:"highlights"`
	ActionItems []string `json:"actionItems"`
	Speakers    []string `json:"speakers"`
}

// Generator produces highlights from transcript text.
type Generator interface {
	Generate(ctx context.Context, transcript string) (Highlights, error)
}

const systemPrompt = `You summarize meeting transcripts. Respond with a JSON object:
{"summary": string, "highlights": [string], "actionItems": [string], "speakers": [string]}.
Keep the summary under 200 words. Extract concrete action items only.`

// OpenAIGenerator implements Generator over the OpenAI chat API.
type OpenAIGenerator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIGenerator creates a generator. An empty model selects gpt-4o-mini.
func NewOpenAIGenerator(apiKey, model string, timeout time.Duration) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OpenAIGenerator{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
	}
}

// Generate requests a summary with a bounded timeout.
func (g *OpenAIGenerator) Generate(ctx context.Context, transcript string) (Highlights, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Here is the meeting transcript to summarize:\n\n" + transcript},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Highlights{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Highlights{}, fmt.Errorf("empty completion response")
	}

	var h Highlights
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &h); err != nil {
		return Highlights{}, fmt.Errorf("parse highlights: %w", err)
	}
	return h, nil
}

// GenerateWithFallback runs the generator and substitutes a heuristic summary
// on any failure, so finalization always completes.
func GenerateWithFallback(ctx context.Context, g Generator, transcript string, duration time.Duration, speakers []string) Highlights {
	if g != nil {
		h, err := g.Generate(ctx, transcript)
		if err == nil {
			return h
		}
		logging.Warning(logging.CategoryHighlight, "highlight generation failed, using heuristic summary: %v", err)
	}
	return Heuristic(transcript, duration, speakers)
}

// Heuristic derives a clearly-marked placeholder summary from word count and
// duration.
func Heuristic(transcript string, duration time.Duration, speakers []string) Highlights {
	words := len(strings.Fields(transcript))
	minutes := int(duration.Minutes())
	summary := fmt.Sprintf("%s. Meeting ran %d minutes with %d speakers and roughly %d words of discussion.",
		FallbackNotice, minutes, len(speakers), words)
	return Highlights{
		Summary:  summary,
		Speakers: speakers,
	}
}
