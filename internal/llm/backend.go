package llm

import "context"

// Request is one grading exchange: a role's fixed instructions and the case input.
type Request struct {
	Role         string
	Instructions string
	Input        string
}

// Backend performs a single exchange and returns the fully assembled text.
// Implementations must be safe for concurrent use.
type Backend interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (string, error)
}

type GenerationOptions struct {
	Model       string
	Temperature float32
	Stream      bool
}
