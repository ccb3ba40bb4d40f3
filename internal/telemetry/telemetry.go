// Package telemetry is a thin sentry-go wrapper that hooks into
// internal/errors' reporter mechanism, trimmed down from the teacher's
// internal/errors/telemetry_integration.go (which adds privacy-scrubbing
// regexes, error hooks, and a pluggable TelemetryReporter interface for
// a much larger error taxonomy than WaveSync has): WaveSync has a single
// reporting sink, so Init/RegisterReporter replace
// SetTelemetryReporter/AddErrorHook.
package telemetry

import (
	"sync/atomic"

	"github.com/getsentry/sentry-go"

	waveerrors "github.com/blaa/wavesync-go/internal/errors"
)

var enabled atomic.Bool

// Init configures sentry-go and registers a reporter for
// high/critical-priority errors built through internal/errors. A blank
// dsn disables telemetry entirely (Init becomes a no-op), matching the
// teacher's pattern of treating an absent DSN as "telemetry off".
func Init(dsn, release string) error {
	if dsn == "" {
		return nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	}); err != nil {
		return err
	}

	enabled.Store(true)
	waveerrors.RegisterReporter(report)
	return nil
}

// Flush blocks up to two seconds for any pending events to be sent, for
// use during shutdown.
func Flush() {
	if enabled.Load() {
		sentry.Flush(2_000_000_000) // 2s, in nanoseconds per sentry.Flush's time.Duration param
	}
}

func report(we *waveerrors.WaveError) {
	if !enabled.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", we.Component)
		scope.SetTag("category", string(we.Category))
		scope.SetTag("priority", string(we.Priority))
		for k, v := range we.Context {
			scope.SetContext(k, map[string]any{"value": v})
		}
		level := sentry.LevelWarning
		if we.Priority == waveerrors.PriorityCritical {
			level = sentry.LevelError
		}
		scope.SetLevel(level)
		sentry.CaptureException(we)
	})
}
