package tracing

import (
	"context"
	"testing"
)

func TestInitOTelDisabled(t *testing.T) {
	shutdown, err := InitOTel(OTelConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitOTel failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Expected no-op shutdown, got %v", err)
	}
}

func TestCycleSpanWithoutInit(t *testing.T) {
	// Uninitialized tracing falls back to a no-op tracer.
	ctx, span := CycleSpan(context.Background())
	defer span.End()

	if ctx == nil {
		t.Fatal("Expected a context back")
	}
	SetAnomalyCount(span, 3)
	RecordError(span, context.DeadlineExceeded)
}

func TestNewTraceInfo(t *testing.T) {
	info := NewTraceInfo()
	if len(info.TraceID) != 32 {
		t.Errorf("Expected 32-char trace id, got %q", info.TraceID)
	}
	if len(info.SpanID) != 16 {
		t.Errorf("Expected 16-char span id, got %q", info.SpanID)
	}
}

func TestHeaders(t *testing.T) {
	info := &TraceInfo{TraceID: "abc", SpanID: "def"}

	headers := info.Headers()
	if headers[TraceIDHeader] != "abc" || headers[SpanIDHeader] != "def" {
		t.Errorf("Unexpected headers: %v", headers)
	}
	if headers[RequestIDHeader] != "abc" {
		t.Errorf("Expected request id to reuse trace id, got %q", headers[RequestIDHeader])
	}
	if _, ok := headers[ParentSpanIDHeader]; ok {
		t.Error("Expected no parent header without a parent span")
	}

	info.ParentSpanID = "ghi"
	if got := info.Headers()[ParentSpanIDHeader]; got != "ghi" {
		t.Errorf("Expected parent header, got %q", got)
	}
}

func TestFromContextWithoutSpan(t *testing.T) {
	info := FromContext(context.Background())
	if info.TraceID != "" || info.SpanID != "" {
		t.Errorf("Expected empty trace info, got %+v", info)
	}
}
