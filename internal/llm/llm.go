// Package llm defines the contract between the transcript controller and the
// model backends that perform inference and stream tokens.
package llm

import (
	"context"

	"github.com/zhouzirui/gemini-chat/internal/model/chat"
)

// GenerationConfig carries the per-session sampling settings.
type GenerationConfig struct {
	Temperature       float32
	TopK              float32
	TopP              float32
	MaxOutputTokens   int32
	SystemInstruction string
	// HistoryLimit caps the number of prior messages replayed to the model. Zero keeps no history.
	HistoryLimit int
}

// Chunk is one incremental fragment of model output.
type Chunk struct {
	Text  string
	Image *chat.Image
}

// Provider creates conversation sessions against a model backend.
type Provider interface {
	Name() string
	NewSession(ctx context.Context, cfg GenerationConfig) (Session, error)
}

// Session holds one conversation's history on the backend side.
type Session interface {
	ID() string
	// SendStream submits text and returns the response stream. History is
	// updated only once the stream reaches io.EOF.
	SendStream(ctx context.Context, text string) (Stream, error)
}

// Stream yields chunks until io.EOF or an error.
type Stream interface {
	Recv() (Chunk, error)
	Close()
}
