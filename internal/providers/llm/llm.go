package llm

import "context"

type Provider interface {
	// StreamAnswer returns a stream of text chunks (incremental).
	StreamAnswer(ctx context.Context, prompt string) (chunks <-chan string, errs <-chan error)
	Close() error
}

// Translator turns a final transcript segment into the target language.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}
