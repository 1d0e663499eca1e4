package types

import "context"

// Generator defines the interface to the external text generator. All
// implementations must be safe for concurrent use; every call is a
// suspension point for the calling pipeline.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
