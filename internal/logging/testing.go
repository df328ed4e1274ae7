package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// NewTest returns a logger that writes through t.Log
func NewTest(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t)
}

// NewObserved returns a logger that records entries for assertions
func NewObserved(s Scrubber) (*zap.Logger, *observer.ObservedLogs) {
	var core zapcore.Core
	core, logs := observer.New(zapcore.DebugLevel)
	if s != nil {
		core = WithScrubber(core, s)
	}
	return zap.New(core), logs
}
