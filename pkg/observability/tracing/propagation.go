package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTraceContext injects the span context carried by ctx into headers
// (e.g. an outbound http.Request's header map) so the receiving hop can
// continue the same trace. pkg/upstream's HTTPProvider calls this when
// building the request it sends across the upstream hop.
func InjectTraceContext(ctx context.Context, headers map[string]string) {
	propagator := otel.GetTextMapPropagator()
	carrier := propagation.MapCarrier(headers)
	propagator.Inject(ctx, carrier)
}

// ExtractTraceContext rebuilds a context carrying the span context encoded
// in headers, the inverse of InjectTraceContext. Kept alongside Inject for
// round-trip symmetry and exercised directly in tests; nothing in this
// module terminates an inbound upstream-originated trace today since HTTP
// ingress is out of scope.
func ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	propagator := otel.GetTextMapPropagator()
	carrier := propagation.MapCarrier(headers)
	return propagator.Extract(ctx, carrier)
}
