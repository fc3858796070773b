package traces

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
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, err := Init(context.Background(), "", "test", logger)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_Attributes(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartSpan(context.Background(), "risk.Assess",
		Wallet("0x11"), Contract("0x22"), TxType("swap"))
	span.SetAttributes(Risk("CAUTION", 39)...)
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "risk.Assess", ended[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "0x11", attrs["tx.wallet"].AsString())
	assert.Equal(t, "0x22", attrs["tx.contract"].AsString())
	assert.Equal(t, "swap", attrs["tx.type"].AsString())
	assert.Equal(t, "CAUTION", attrs["risk.band"].AsString())
	assert.Equal(t, int64(39), attrs["risk.score"].AsInt64())
}

func TestFail(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartSpan(context.Background(), "snapshot.Load")
	Fail(span, nil)
	Fail(span, errors.New("feed unreachable"))
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "feed unreachable", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
}
