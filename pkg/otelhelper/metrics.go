package otelhelper

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespaceKey = "pulse.namespace"

// SessionMetrics records connected sessions and broadcast fan-out.
type SessionMetrics struct {
	sessions   metric.Int64UpDownCounter
	broadcasts metric.Int64Counter
	deliveries metric.Int64Counter
	failures   metric.Int64Counter
}

// NewSessionMetrics registers the session instruments on meter.
func NewSessionMetrics(meter metric.Meter) (*SessionMetrics, error) {
	sessions, err := meter.Int64UpDownCounter("pulse.sessions.active",
		metric.WithDescription("Connected observer sessions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions instrument: %w", err)
	}

	broadcasts, err := meter.Int64Counter("pulse.broadcasts",
		metric.WithDescription("Events fanned out to sessions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcasts instrument: %w", err)
	}

	deliveries, err := meter.Int64Counter("pulse.broadcast.deliveries",
		metric.WithDescription("Frames delivered to sessions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create deliveries instrument: %w", err)
	}

	failures, err := meter.Int64Counter("pulse.broadcast.send_failures",
		metric.WithDescription("Sessions dropped after a failed send"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failures instrument: %w", err)
	}

	return &SessionMetrics{
		sessions:   sessions,
		broadcasts: broadcasts,
		deliveries: deliveries,
		failures:   failures,
	}, nil
}

func namespaceAttr(namespace string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(namespaceKey, namespace))
}

func (m *SessionMetrics) SessionOpened(ctx context.Context, namespace string) {
	m.sessions.Add(ctx, 1, namespaceAttr(namespace))
}

func (m *SessionMetrics) SessionClosed(ctx context.Context, namespace string) {
	m.sessions.Add(ctx, -1, namespaceAttr(namespace))
}

func (m *SessionMetrics) Broadcast(ctx context.Context, namespace string, delivered int) {
	m.broadcasts.Add(ctx, 1, namespaceAttr(namespace))
	m.deliveries.Add(ctx, int64(delivered), namespaceAttr(namespace))
}

func (m *SessionMetrics) SendFailed(ctx context.Context, namespace string) {
	m.failures.Add(ctx, 1, namespaceAttr(namespace))
}
