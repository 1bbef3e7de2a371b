// Package testutil provides common utility functions for testing.
package testutil

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// ObservedLogger returns a logger that records entries at debug level and
// above, plus the recorder to inspect them.
func ObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// Context returns a context that is cancelled after timeout or when the
// test finishes.
func Context(t interface {
	Cleanup(func())
}, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
