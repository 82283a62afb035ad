// Package engine abstracts the local inference backend used for embedding
// and answer generation. The pipeline treats it as an external collaborator
// with a fixed interface; the default implementation talks to an Ollama
// server over HTTP.
package engine

import "context"

// Message is one chat message sent to the generator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenOptions tunes text generation. Zero values keep the backend default.
type GenOptions struct {
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
	MaxTokens     int
}

// Engine is a local inference backend.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's reply.
	Chat(ctx context.Context, model string, messages []Message, opts *GenOptions) (string, error)

	// Embed returns the embedding vector for text using the specified model.
	// The backend does not guarantee normalized vectors.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model is available locally.
	HasModel(ctx context.Context, name string) bool
}
