// Package logging is the node's structured logger. Components receive a
// Logger and scope it with With("module", ...).
package logging

import "context"

// Logger takes a message plus alternating key/value args:
//
//	l.Info(ctx, "agent spawned", "role", "sender", "agent", addr)
type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}
