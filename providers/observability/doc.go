// Package observability defines the interfaces and semantic conventions used
// for tracing, metrics and structured logging across the webchat providers.
//
// [Provider] composes [Tracer], [Metrics] and [Logger] into one injectable
// dependency. An active [Provider] and [Span] travel through a
// [context.Context] via [ContextWithObserver] and [ContextWithSpan] and are
// read back with [ObserverFromContext] and [SpanFromContext].
//
// semconv.go holds the attribute keys, span names, event names and metric
// names used when recording observations.
package observability
