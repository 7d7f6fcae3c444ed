package adapters

import (
	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// finish marks the span from err and hands err back. A lookup that found
// nothing leaves the span Ok.
func finish(span trace.Span, err error) error {
	return telemetry.EndSpan(span, err, domain.ErrNotFound)
}
