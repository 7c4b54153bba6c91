package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty", Format: "json"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewConsoleAndJSON(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		log, err := New(Config{Level: "info", Format: format})
		if err != nil {
			t.Fatalf("New(%s) failed: %v", format, err)
		}
		if log.Logger == nil {
			t.Fatalf("New(%s) returned nil zap logger", format)
		}
	}
}

func TestSafeHeadersRedactsCredentials(t *testing.T) {
	headers := map[string][]string{
		"Authorization": {"Bearer sk-live-secret"},
		"X-Api-Key":     {"abc"},
		"Content-Type":  {"application/json"},
	}

	safe := SafeHeaders(headers)
	if safe["Authorization"] != "[REDACTED]" {
		t.Errorf("authorization not redacted: %q", safe["Authorization"])
	}
	if safe["X-Api-Key"] != "[REDACTED]" {
		t.Errorf("api key not redacted: %q", safe["X-Api-Key"])
	}
	if safe["Content-Type"] != "application/json" {
		t.Errorf("content type changed: %q", safe["Content-Type"])
	}
}

func TestContextHelpers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := &Logger{Logger: zap.New(core)}

	log.WithComponent("privacy").WithSession("s-1").WithRequestID("r-1").Info("masked")
	log.WithSession("").Info("no session")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["component"] != "privacy" || fields["session_id"] != "s-1" || fields["request_id"] != "r-1" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if _, ok := entries[1].ContextMap()["session_id"]; ok {
		t.Error("empty session id should not add a field")
	}
}
