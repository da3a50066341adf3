// Package internal holds the small pieces of ambient infrastructure (logging) shared by the CLI and library
// code that don't belong in the public API surface.
package internal

import (
	"context"
	"fmt"
	"log"
	"os"
)

// Prefix builds a "[i/n] "name" - " prefix for logging progress through a batch of n archives, the i-th
// (zero-based) of which is being processed.
func Prefix(i, n int, name string) string {
	if len(name) > 40 {
		name = name[:37] + "..."
	}
	return fmt.Sprintf(`[%d/%d] "%s" - `, i+1, n, name)
}

type prefixKey struct{}
type loggerKey struct{}

// WithPrefixLogger creates a new logger using the given prefix, then attaches both the logger and prefix to
// context, so that deeply nested calls processing one particular archive can log consistently without having to
// thread the prefix through every function signature.
func WithPrefixLogger(ctx context.Context, prefix string) context.Context {
	logger := log.New(os.Stderr, prefix, 0)
	return context.WithValue(context.WithValue(ctx, prefixKey{}, prefix), loggerKey{}, logger)
}

// MustPrefix returns the prefix string attached to the given context. Panics if WithPrefixLogger was never
// called on an ancestor of ctx.
func MustPrefix(ctx context.Context) string {
	return ctx.Value(prefixKey{}).(string)
}

// MustLogger returns the logger attached to the given context. Panics if WithPrefixLogger was never called on an
// ancestor of ctx.
func MustLogger(ctx context.Context) *log.Logger {
	return ctx.Value(loggerKey{}).(*log.Logger)
}
