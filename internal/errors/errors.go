// Package errors provides centralized, categorized error construction for
// WaveSync components. It mirrors the enhanced-error pattern used across
// the codebase's ambient tooling: every error carries a component, a
// category, free-form context, and a priority that downstream telemetry
// can act on.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// Category groups errors for aggregation and alerting.
type Category string

const (
	CategoryAudio         Category = "audio"
	CategoryNetwork       Category = "network"
	CategoryWire          Category = "wire-protocol"
	CategoryValidation    Category = "validation"
	CategoryState         Category = "state"
	CategoryConfiguration Category = "configuration"
	CategorySink          Category = "audio-sink"
	CategoryGeneric       Category = "generic"
)

// Priority gives telemetry a hint about how urgently an error should be
// surfaced. Most WaveSync errors are transient and logged, not reported.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ComponentUnknown is used when no component was set on the builder.
const ComponentUnknown = "unknown"

// WaveError wraps an underlying error with component/category/context
// metadata.
type WaveError struct {
	Err       error
	Component string
	Category  Category
	Priority  Priority
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface.
func (e *WaveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Component, e.Category)
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error to errors.Is/errors.As.
func (e *WaveError) Unwrap() error {
	return e.Err
}

// GetContext returns a defensive copy of the error's context map.
func (e *WaveError) GetContext() map[string]any {
	if e.Context == nil {
		return nil
	}
	cp := make(map[string]any, len(e.Context))
	maps.Copy(cp, e.Context)
	return cp
}

// Builder provides a fluent interface for constructing a WaveError.
type Builder struct {
	err       error
	component string
	category  Category
	priority  Priority
	context   map[string]any
}

// New starts a builder wrapping err (which may be nil for a bare error).
func New(err error) *Builder {
	return &Builder{err: err}
}

// Newf starts a builder wrapping a formatted error.
func Newf(format string, args ...any) *Builder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the originating component name.
func (b *Builder) Component(component string) *Builder {
	b.component = component
	return b
}

// Category sets the error category.
func (b *Builder) Category(category Category) *Builder {
	b.category = category
	return b
}

// Priority marks the error's reporting priority.
func (b *Builder) Priority(priority Priority) *Builder {
	b.priority = priority
	return b
}

// Context attaches a key/value pair of diagnostic context.
func (b *Builder) Context(key string, value any) *Builder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the error, filling in defaults and forwarding to
// telemetry when the error's priority warrants it and a reporter is
// registered (see internal/telemetry).
func (b *Builder) Build() *WaveError {
	component := b.component
	if component == "" {
		component = ComponentUnknown
	}
	category := b.category
	if category == "" {
		category = CategoryGeneric
	}

	we := &WaveError{
		Err:       b.err,
		Component: component,
		Category:  category,
		Priority:  b.priority,
		Context:   b.context,
		Timestamp: time.Now(),
	}

	reportIfCritical(we)

	return we
}

// reporter receives critical errors; set once via RegisterReporter.
var reporter func(*WaveError)

// RegisterReporter installs a sink for high- and critical-priority
// errors. Intended
// to be called once from internal/telemetry's Init.
func RegisterReporter(fn func(*WaveError)) {
	reporter = fn
}

func reportIfCritical(we *WaveError) {
	if reporter == nil {
		return
	}
	if we.Priority == PriorityCritical || we.Priority == PriorityHigh {
		reporter(we)
	}
}

// Is delegates to the standard library so WaveError participates in
// errors.Is chains built around sentinel errors.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As delegates to the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
