package commands_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dejobratic/paygate/internal/payments/app/commands"
	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/metrics"
)

type stubReturnHandler struct {
	payment *domain.Payment
	err     error
}

func (s stubReturnHandler) Handle(context.Context, commands.HandleReturnCommand) (*domain.Payment, error) {
	return s.payment, s.err
}

func TestObservableReturnHandler(t *testing.T) {
	tests := []struct {
		name            string
		handler         stubReturnHandler
		expectedStatus  codes.Code
		expectedOutcome string
	}{
		{
			name:            "recorded payment",
			handler:         stubReturnHandler{payment: &domain.Payment{ID: "p1", State: domain.StateCompleted}},
			expectedStatus:  codes.Ok,
			expectedOutcome: "completed",
		},
		{
			name:            "bad signature is an answer",
			handler:         stubReturnHandler{err: domain.ErrInvalidSignature},
			expectedStatus:  codes.Ok,
			expectedOutcome: "rejected",
		},
		{
			name:            "storage failure",
			handler:         stubReturnHandler{err: errors.New("connection reset")},
			expectedStatus:  codes.Error,
			expectedOutcome: "error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			previous := otel.GetTracerProvider()
			spans := tracetest.NewInMemoryExporter()
			otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans)))
			t.Cleanup(func() { otel.SetTracerProvider(previous) })

			reader := sdkmetric.NewManualReader()
			m, err := metrics.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
			require.NoError(t, err)

			handler := commands.NewObservableReturnHandler(tt.handler, slog.New(slog.NewTextHandler(io.Discard, nil)), m)
			_, err = handler.Handle(context.Background(), commands.HandleReturnCommand{OrderID: "O1", TxnID: "txn-1", PaymentStatus: "COMPLETED"})
			assert.Equal(t, tt.handler.err, err)

			got := spans.GetSpans()
			require.Len(t, got, 1)
			assert.Equal(t, "HandleReturnCommand.Handle", got[0].Name)
			assert.Equal(t, tt.expectedStatus, got[0].Status.Code)

			var rm metricdata.ResourceMetrics
			require.NoError(t, reader.Collect(context.Background(), &rm))
			outcomes := map[string]int64{}
			for _, sm := range rm.ScopeMetrics {
				for _, metric := range sm.Metrics {
					if metric.Name != "hosted_returns_total" {
						continue
					}
					for _, dp := range metric.Data.(metricdata.Sum[int64]).DataPoints {
						outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
						outcomes[outcome.AsString()] += dp.Value
					}
				}
			}
			assert.Equal(t, map[string]int64{tt.expectedOutcome: 1}, outcomes)
		})
	}
}
