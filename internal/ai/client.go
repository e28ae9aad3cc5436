// Package ai holds the pipeline's optional, swappable analysis
// capability. Every stage that needs a model reads the shared Slot on
// each tick; an absent client degrades the stage instead of failing it.
package ai

import (
	"context"

	"github.com/kalambet/recall/internal/ollama"
)

// Client abstracts the multimodal backend. Implementations are
// best-effort: callers must tolerate errors and absence alike.
type Client interface {
	// AnalyzeFrames sends video frames with a prompt and returns the raw
	// model response. When schema is non-nil, structured JSON is requested.
	AnalyzeFrames(ctx context.Context, frames [][]byte, prompt string, schema *Schema) (string, error)

	// Summarize sends a text corpus with a prompt and returns narrative text.
	Summarize(ctx context.Context, corpus, prompt string) (string, error)

	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Schema mirrors the structured-output schema of the backend without
// leaking the ollama package into every consumer.
type Schema struct {
	Type       string
	Properties map[string]Property
	Required   []string
}

// Property describes a single field within a Schema.
type Property struct {
	Type        string
	Description string
}

// OllamaClient adapts a local Ollama server to the Client interface.
type OllamaClient struct {
	client      *ollama.Client
	visionModel string
	textModel   string
	embedModel  string
}

// NewOllamaClient creates a Client backed by an Ollama server at baseURL.
func NewOllamaClient(baseURL, visionModel, textModel, embedModel string) *OllamaClient {
	return &OllamaClient{
		client:      ollama.New(baseURL),
		visionModel: visionModel,
		textModel:   textModel,
		embedModel:  embedModel,
	}
}

func (c *OllamaClient) AnalyzeFrames(ctx context.Context, frames [][]byte, prompt string, schema *Schema) (string, error) {
	msg := ollama.Message{Role: "user", Content: prompt, Images: frames}
	return c.client.Chat(ctx, c.visionModel, []ollama.Message{msg}, toOllamaSchema(schema))
}

func (c *OllamaClient) Summarize(ctx context.Context, corpus, prompt string) (string, error) {
	messages := []ollama.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: corpus},
	}
	return c.client.Chat(ctx, c.textModel, messages, nil)
}

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.client.Embed(ctx, c.embedModel, text)
}

// IsRunning reports whether the backing server is reachable.
func (c *OllamaClient) IsRunning(ctx context.Context) bool {
	return c.client.IsRunning(ctx)
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{Type: s.Type, Required: s.Required}
	if s.Properties != nil {
		out.Properties = make(map[string]ollama.SchemaProperty, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = ollama.SchemaProperty{Type: v.Type, Description: v.Description}
		}
	}
	return out
}
