package errors

import (
	stderrors "errors"
	"net/http"
	"strings"
	"testing"
)

func TestStructuredErrorMessage(t *testing.T) {
	err := NewTransport("log store", "connection refused")

	msg := err.Error()
	if !strings.Contains(msg, "TRANSPORT_ERROR") {
		t.Errorf("Expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("Expected detail in message, got %q", msg)
	}
	if err.Suggestion == "" {
		t.Error("Expected a recovery suggestion")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := stderrors.New("underlying")
	err := NewParse("llm", "bad json").WithCause(cause)

	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", NewInvalidInput("bad limit"), http.StatusBadRequest},
		{"not found", NewNotFound("incident", "INC-1"), http.StatusNotFound},
		{"transport", NewTransport("log store", "down"), http.StatusBadGateway},
		{"parse", NewParse("llm", "bad json"), http.StatusBadGateway},
		{"deadline", NewDeadlineExceeded("rca analysis"), http.StatusGatewayTimeout},
		{"config missing", NewConfigurationMissing("LLM_API_KEY"), http.StatusServiceUnavailable},
		{"state", NewState("broken invariant"), http.StatusInternalServerError},
		{"plain error", stderrors.New("anything"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	err := NewTransportStatus("log store", 503, "unavailable")

	if !IsTransport(err) {
		t.Error("Expected IsTransport true")
	}
	if IsNotFound(err) {
		t.Error("Expected IsNotFound false")
	}
	if HasCode(stderrors.New("plain"), CodeTransport) {
		t.Error("Expected false for unstructured errors")
	}
}

func TestToJSONNeverFails(t *testing.T) {
	err := NewInvalidInput("bad input").WithDetails(map[string]any{"field": "limit"})

	blob := err.ToJSON()
	if !strings.Contains(blob, "INVALID_INPUT") {
		t.Errorf("Unexpected JSON: %s", blob)
	}
}
