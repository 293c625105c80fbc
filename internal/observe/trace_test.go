package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default slog logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	useTestTracer(t)
	ctx, span := StartSpan(context.Background(), "analysis")
	defer span.End()

	cid := CorrelationID(ctx)
	if _, err := hex.DecodeString(cid); err != nil || len(cid) != 32 {
		t.Errorf("CorrelationID = %q, want 32 hex chars", cid)
	}
}

func TestStartSpan_ExportsNamedSpan(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSpan(context.Background(), "voice.connect")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "voice.connect" {
		t.Fatalf("spans = %v, want one named voice.connect", spans.Snapshots())
	}
}

func TestLogger_Attributes(t *testing.T) {
	useTestTracer(t)

	spanCtx := func() context.Context {
		ctx, span := StartSpan(context.Background(), "log")
		t.Cleanup(func() { span.End() })
		return ctx
	}

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     context.Background(),
			notWant: []string{"trace_id", "span_id", "session_id"},
		},
		{
			name:    "active span",
			ctx:     spanCtx(),
			want:    []string{"trace_id=", "span_id="},
			notWant: []string{"session_id"},
		},
		{
			name:    "session only",
			ctx:     WithSessionID(context.Background(), "3f2b6c1e"),
			want:    []string{"session_id=3f2b6c1e"},
			notWant: []string{"trace_id"},
		},
		{
			name: "span and session",
			ctx:  WithSessionID(spanCtx(), "3f2b6c1e"),
			want: []string{"trace_id=", "session_id=3f2b6c1e"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tt.ctx).Info("voice session started")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q should not contain %q", out, w)
				}
			}
		})
	}
}

func TestSessionID(t *testing.T) {
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	if got := SessionID(WithSessionID(context.Background(), "abc")); got != "abc" {
		t.Errorf("SessionID = %q, want abc", got)
	}
}
