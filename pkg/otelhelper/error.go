package otelhelper

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorTypeKey holds the Go type of a recorded error.
const ErrorTypeKey = "pulse.error.type"

// SetError marks span failed and records err with attrs and its Go type.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String(ErrorTypeKey, fmt.Sprintf("%T", err)))

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}
