package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OtelAPI forwards every report to an inner API and additionally records broken
// components and warnings as spans, and counts as gauge points.
type OtelAPI struct {
	inner  API
	tracer trace.Tracer
	meter  metric.Meter
	gauges *sync.Map
}

// NewOtelAPI creates an OtelAPI using the global tracer and meter providers.
func NewOtelAPI(name string, inner API) OtelAPI {
	return OtelAPI{
		inner:  OrDefault(inner),
		tracer: otel.Tracer(name),
		meter:  otel.Meter(name),
		gauges: &sync.Map{},
	}
}

func paramAttributes(params []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, len(params))
	for i, p := range params {
		attrs[i] = attribute.String(fmt.Sprintf("params.%d", i), fmt.Sprint(p))
	}
	return attrs
}

func (o OtelAPI) record(id string, status codes.Code, params []any) {
	_, span := o.tracer.Start(context.Background(), id)
	defer span.End()

	span.SetAttributes(paramAttributes(params)...)
	for _, p := range params {
		if err, ok := p.(error); ok {
			span.RecordError(err)
		}
	}
	span.SetStatus(status, id)
}

func (o OtelAPI) ReportBroken(id string, params ...any) {
	o.record(id, codes.Error, params)
	o.inner.ReportBroken(id, params...)
}

func (o OtelAPI) ReportWarning(id string, params ...any) {
	o.record(id, codes.Unset, params)
	o.inner.ReportWarning(id, params...)
}

func (o OtelAPI) ReportDebug(msg string, params ...any) {
	o.inner.ReportDebug(msg, params...)
}

func (o OtelAPI) ReportCount(id string, count int64) {
	cached, ok := o.gauges.Load(id)
	if !ok {
		gauge, err := o.meter.Int64Gauge(id)
		if err != nil {
			o.inner.ReportBroken("otel.gauge", fmt.Errorf("create gauge: %w", err), id)
			return
		}
		cached, _ = o.gauges.LoadOrStore(id, gauge)
	}
	cached.(metric.Int64Gauge).Record(context.Background(), count)
	o.inner.ReportCount(id, count)
}
