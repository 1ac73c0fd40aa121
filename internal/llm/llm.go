package llm

import (
	"context"

	"shoplist/internal/shared"
)

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator is an interface for generating text from a prompt.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}

// TextGenerateCloser is a TextGenerator holding a connection that must be
// closed on shutdown.
type TextGenerateCloser interface {
	TextGenerator
	Closer
}
