// Package ai wraps an on-device language model behind three best-effort
// operations: summarize-and-tag, image provenance analysis, and card query.
package ai

import (
	"context"
	"errors"
)

// Availability is what the model reports before any session is created.
type Availability string

const (
	Unavailable Availability = "unavailable"
	Ready       Availability = "ready"
)

// PromptOptions are per-prompt inputs besides the text.
type PromptOptions struct {
	Image  []byte // raw image bytes, nil for text-only prompts
	Locale string
}

// Model is the inference engine boundary.
type Model interface {
	Availability(ctx context.Context, locale string) (Availability, error)
	Create(ctx context.Context, locale string) (Session, error)
}

// Session is acquired for a single call and destroyed after use.
type Session interface {
	Prompt(ctx context.Context, text string, opts PromptOptions) (string, error)
	Destroy()
}

// ErrSessionClosed is returned by Prompt after Destroy.
var ErrSessionClosed = errors.New("session destroyed")

// Disabled is a Model that is never available.
type Disabled struct{}

func (Disabled) Availability(context.Context, string) (Availability, error) {
	return Unavailable, nil
}

func (Disabled) Create(context.Context, string) (Session, error) {
	return nil, errors.New("language model disabled")
}
