package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"

	"github.com/eduvid/explainer/internal/pipeline"
)

const deckSystemPrompt = `You are a teaching assistant that writes short explanatory video decks.
Respond with a single JSON object and nothing else, matching this shape:
{
  "slides": [
    {"type": "title|definition|example|related|summary",
     "title": "...", "subtitle": "...", "bullets": ["..."],
     "notes": "narration for this slide", "duration_sec": 5}
  ]
}
Produce exactly five slides, one of each type in the order
title, definition, example, related, summary. Keep the whole deck
presentable in under three minutes.`

const deckUserPrompt = `Concept: %s
Definition: %s
Related topics: %s
Audience level: %s`

// OpenAIConfig carries the chat-model settings for the LLM backend.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIGenerator produces slide decks by prompting a chat model. Transport
// and API failures are transient; a reply that does not decode into a deck
// is permanent.
type OpenAIGenerator struct {
	model *openai.ChatModel
}

var _ pipeline.Generator = (*OpenAIGenerator)(nil)

func NewOpenAIGenerator(ctx context.Context, cfg OpenAIConfig) (*OpenAIGenerator, error) {
	modelConfig := &openai.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	}
	if cfg.BaseURL != "" {
		modelConfig.BaseURL = cfg.BaseURL
	}

	model, err := openai.NewChatModel(ctx, modelConfig)
	if err != nil {
		return nil, fmt.Errorf("creating chat model: %w", err)
	}
	return &OpenAIGenerator{model: model}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, concept *pipeline.Concept, audienceLevel string) (*pipeline.Draft, error) {
	if concept == nil || concept.Key == "" {
		return nil, pipeline.Permanentf("empty concept")
	}

	messages := []*schema.Message{
		schema.SystemMessage(deckSystemPrompt),
		schema.UserMessage(fmt.Sprintf(deckUserPrompt,
			concept.Key, concept.Definition, strings.Join(concept.Related, ", "), audienceLevel)),
	}

	out, err := g.model.Generate(ctx, messages)
	if err != nil {
		return nil, pipeline.NewTransientError(fmt.Errorf("chat model: %w", err))
	}

	deck, err := decodeDeck(out.Content)
	if err != nil {
		return nil, pipeline.NewPermanentError(fmt.Errorf("model returned malformed deck: %w", err))
	}

	narration := make([]string, 0, len(deck.Slides))
	for _, s := range deck.Slides {
		if s.Notes != "" {
			narration = append(narration, s.Notes)
		}
	}

	return &pipeline.Draft{
		Concept:       concept.Key,
		AudienceLevel: audienceLevel,
		GeneratedAt:   time.Now().UTC(),
		Slides:        deck.Slides,
		Script:        strings.Join(narration, "\n\n"),
	}, nil
}

type deckPayload struct {
	Slides []pipeline.Slide `json:"slides"`
}

// decodeDeck extracts the deck JSON from a model reply, tolerating code
// fences around the object.
func decodeDeck(content string) (*deckPayload, error) {
	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "{"); start > 0 {
		trimmed = trimmed[start:]
	}
	if end := strings.LastIndex(trimmed, "}"); end >= 0 {
		trimmed = trimmed[:end+1]
	}

	var deck deckPayload
	if err := json.Unmarshal([]byte(trimmed), &deck); err != nil {
		return nil, err
	}
	if len(deck.Slides) == 0 {
		return nil, fmt.Errorf("deck has no slides")
	}
	return &deck, nil
}
