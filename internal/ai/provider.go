package ai

import (
	"context"
	"errors"
	"fmt"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the text-completion capability the honeypot core consumes.
// Implementations must honor ctx cancellation and deadlines.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

type ErrorKind string

const (
	ErrTimeout   ErrorKind = "timeout"
	ErrTransport ErrorKind = "transport"
	ErrRejected  ErrorKind = "rejected"
)

// GenerationError classifies why a completion failed. The turn pipeline
// recovers from every kind the same way; the kind exists for logs.
type GenerationError struct {
	Kind ErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func genErr(ctx context.Context, kind ErrorKind, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return &GenerationError{Kind: kind, Err: err}
}
