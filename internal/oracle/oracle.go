// Package oracle is the boundary to the reasoning engine. Backends are
// treated as unreliable and rate-limited: calls are retried with bounded
// exponential backoff, and a failover wrapper chains a secondary endpoint
// behind the primary.
package oracle

import (
	"context"
)

// Media is an auxiliary binary input (page screenshot, audio clip) attached
// to a decision request alongside the text prompt.
type Media struct {
	MIMEType string
	Data     []byte
}

// Request carries one decision context to a backend.
type Request struct {
	System string
	Prompt string
	Media  []Media
}

// Client asks a reasoning backend for a decision. The reply is raw,
// semi-structured text; parsing it is the caller's problem.
type Client interface {
	Decide(ctx context.Context, req Request) (string, error)
	Name() string
}
