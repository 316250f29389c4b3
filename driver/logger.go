package driver

import (
	"fmt"

	"go.uber.org/zap"
)

// GetLoggerForPolicy builds the fallback logger a Node reaches for when its
// Config carries no *zap.Logger of its own (NewNode's primary path is the
// embedder-supplied Config.Logger; this only ever runs for a Node built
// without one — standalone demos, ad hoc debugging, a test that doesn't
// care). Verbosity follows FailurePolicy rather than an env var: a
// CrashOnError node aborts its process on the first action-execution
// failure, so there is nothing to debug afterward and the teacher's
// production zap config (error-level, no stacktrace, no caller) applies
// unchanged; a RetryForever node instead keeps limping along through
// errors indefinitely, so an operator needs full development-level output
// to see what keeps failing and why.
func GetLoggerForPolicy(policy FailurePolicy) (*zap.Logger, error) {
	if policy == CrashOnError {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
		cfg.DisableStacktrace = true
		cfg.DisableCaller = true
		cfg.Development = false
		return cfg.Build()
	}
	return zap.NewDevelopment()
}

// GetComponentLogger returns a component-scoped child of GetLoggerForPolicy.
func GetComponentLogger(component string, policy FailurePolicy) (*zap.Logger, error) {
	base, err := GetLoggerForPolicy(policy)
	if err != nil {
		return nil, fmt.Errorf("fail to get base logger: %w", err)
	}
	return base.With(zap.String(fieldComponent, component)), nil
}

// GetComponentLoggerOrPanic is the teacher's fail-fast constructor, kept for
// the same reason the teacher has it: a node cannot usefully run without a
// logger, so falling back to one is only worth doing if it can't fail
// silently.
func GetComponentLoggerOrPanic(component string, policy FailurePolicy) *zap.Logger {
	logger, err := GetComponentLogger(component, policy)
	if err != nil {
		panic(err)
	}
	return logger
}

// Structured-field names shared by every log site in this package, so a
// log aggregator can query across them regardless of which event produced
// the line (node.go's role-transition, apply, and send-failure logs all
// use these).
const (
	fieldComponent = "component"
	fieldTerm      = "term"
	fieldPeer      = "peer"
	fieldIndex     = "index"
	fieldRole      = "role"
)
