package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/tankwatch/internal/config"
	"github.com/torosent/tankwatch/internal/tracing"
)

func recorder(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec, tp.Tracer("test")
}

func attrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func boolPtr(v bool) *bool { return &v }

func TestInit(t *testing.T) {
	tests := []struct {
		name          string
		cfg           config.TracingConfig
		wantErr       bool
		wantEnabled   bool
		wantPropagate bool
	}{
		{name: "disabled", cfg: config.TracingConfig{}},
		{
			name:          "grpc",
			cfg:           config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 1, Insecure: true},
			wantEnabled:   true,
			wantPropagate: true,
		},
		{
			name:          "http",
			cfg:           config.TracingConfig{Endpoint: "localhost:4318", Protocol: "HTTP", SampleRate: 0.5, Insecure: true},
			wantEnabled:   true,
			wantPropagate: true,
		},
		{
			name:        "propagation off",
			cfg:         config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 1, Insecure: true, Propagate: boolPtr(false)},
			wantEnabled: true,
		},
		{name: "unknown protocol", cfg: config.TracingConfig{Endpoint: "localhost:4317", Protocol: "zipkin", SampleRate: 1}, wantErr: true},
		{name: "negative rate", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: -0.1}, wantErr: true},
		{name: "rate above one", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tracing.Init(context.Background(), tt.cfg,
				tracing.WithSessionID("01HZX"),
				tracing.WithServer("http://tank:8080"),
			)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Init() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

			if got := p.Enabled(); got != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", got, tt.wantEnabled)
			}
			if got := p.ShouldPropagate(); got != tt.wantPropagate {
				t.Errorf("ShouldPropagate() = %v, want %v", got, tt.wantPropagate)
			}
		})
	}
}

func TestDisabledProviderIsUsable(t *testing.T) {
	for name, p := range map[string]*tracing.Provider{"nil": nil, "zero": {}} {
		t.Run(name, func(t *testing.T) {
			if p.Enabled() || p.ShouldPropagate() {
				t.Error("disabled provider reports enabled or propagating")
			}
			if err := p.Shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
			_, span := p.Tracer().Start(context.Background(), "noop")
			if span.SpanContext().IsValid() {
				t.Error("no-op tracer produced a valid span context")
			}
			span.End()
		})
	}
}

func TestSessionParentsApply(t *testing.T) {
	rec, tracer := recorder(t)

	ctx, session := tracing.StartSession(context.Background(), tracer, "r-1", 2)
	_, apply := tracing.StartApply(ctx, tracer, "r-1", 3)
	tracing.EndSpan(apply, nil, tracing.SamplesKey.Int(9), tracing.CreatedKey.Int(1))
	tracing.EndSpan(session, nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	applySpan, sessionSpan := spans[0], spans[1]

	if sessionSpan.Name() != tracing.SpanSession || applySpan.Name() != tracing.SpanApplyBatch {
		t.Errorf("span names = %q, %q", sessionSpan.Name(), applySpan.Name())
	}
	if applySpan.Parent().SpanID() != sessionSpan.SpanContext().SpanID() {
		t.Error("apply span is not a child of the session span")
	}

	got := attrs(applySpan)
	if got[tracing.ReportKey].AsString() != "r-1" || got[tracing.EntriesKey].AsInt64() != 3 {
		t.Errorf("apply attributes = %v", got)
	}
	if got[tracing.SamplesKey].AsInt64() != 9 || got[tracing.CreatedKey].AsInt64() != 1 {
		t.Errorf("apply end attributes = %v", got)
	}
	if attrs(sessionSpan)[tracing.AttemptKey].AsInt64() != 2 {
		t.Errorf("session attributes = %v", attrs(sessionSpan))
	}
	if applySpan.Status().Code != codes.Ok {
		t.Errorf("apply status = %v, want Ok", applySpan.Status().Code)
	}
}

func TestStartFetch(t *testing.T) {
	rec, tracer := recorder(t)

	_, span := tracing.StartFetch(context.Background(), tracer, "http://tank:8080/data.json")
	tracing.EndSpan(span, errors.New("connection refused"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.SpanKind() != trace.SpanKindClient {
		t.Errorf("kind = %v, want client", s.SpanKind())
	}
	if got := attrs(s)["url.full"].AsString(); got != "http://tank:8080/data.json" {
		t.Errorf("url.full = %q", got)
	}
	if s.Status().Code != codes.Error || s.Status().Description != "connection refused" {
		t.Errorf("status = %+v, want error", s.Status())
	}
	if len(s.Events()) != 1 || s.Events()[0].Name != "exception" {
		t.Errorf("events = %v, want one exception", s.Events())
	}
}

func TestInjectHTTPHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	_, tracer := recorder(t)

	headers := http.Header{}
	tracing.InjectHTTPHeaders(context.Background(), headers)
	if headers.Get("Traceparent") != "" {
		t.Errorf("traceparent set without a span: %q", headers.Get("Traceparent"))
	}

	ctx, span := tracing.StartSession(context.Background(), tracer, "r-1", 1)
	defer span.End()
	tracing.InjectHTTPHeaders(ctx, headers)

	want := span.SpanContext().TraceID().String()
	if got := headers.Get("Traceparent"); len(got) < 55 || got[3:35] != want {
		t.Errorf("traceparent = %q, want trace id %s", got, want)
	}
}
