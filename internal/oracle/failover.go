package oracle

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Failover chains a secondary backend behind the primary. Only when the
// primary has exhausted its own retries does the secondary get the request;
// if both fail the decision cycle fails closed and the session terminates.
type Failover struct {
	primary   Client
	secondary Client
	log       *zap.Logger
}

// NewFailover wraps primary with an optional secondary. A nil secondary
// (or a nil *FallbackClient passed as Client) means no failover.
func NewFailover(primary, secondary Client, log *zap.Logger) *Failover {
	return &Failover{primary: primary, secondary: secondary, log: log}
}

func (f *Failover) Name() string {
	if f.secondary != nil {
		return fmt.Sprintf("%s->%s", f.primary.Name(), f.secondary.Name())
	}
	return f.primary.Name()
}

func (f *Failover) Decide(ctx context.Context, req Request) (string, error) {
	reply, err := f.primary.Decide(ctx, req)
	if err == nil {
		return reply, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if f.secondary == nil {
		return "", err
	}

	f.log.Warn("primary oracle failed, trying fallback",
		zap.String("primary", f.primary.Name()),
		zap.String("fallback", f.secondary.Name()),
		zap.Error(err))

	reply, fbErr := f.secondary.Decide(ctx, req)
	if fbErr != nil {
		return "", fmt.Errorf("both oracle backends failed: primary: %v; fallback: %w", err, fbErr)
	}
	return reply, nil
}
