// Package aiclient defines the interface a concrete AI coding backend
// implements to serve codex jobs. No concrete backend ships here: wiring
// an actual model API is out of scope, but the shape mirrors the
// adapter contract AI backends are plugged in behind elsewhere in this
// domain, generalized from chat completion to job completion.
package aiclient

import "context"

// Capabilities describes what a Backend supports, so callers can choose
// between multiple configured backends.
type Capabilities struct {
	Streaming    bool
	MaxInputBytes int64
}

// Backend is a pluggable AI completion provider. IsAvailable should be
// cheap and side-effect free (an API key present, a local daemon
// reachable); Complete and Stream do the actual work.
type Backend interface {
	Type() string
	IsAvailable(ctx context.Context) bool
	Capabilities() Capabilities
	Complete(ctx context.Context, prompt string, system string) (string, error)
	Stream(ctx context.Context, prompt string, system string, chunks chan<- string) error
	ListModels(ctx context.Context) ([]string, error)
}
