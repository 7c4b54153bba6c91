package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/raaihank/glasslm/internal/audit"
	"github.com/raaihank/glasslm/internal/config"
	"github.com/raaihank/glasslm/internal/logger"
	"github.com/raaihank/glasslm/internal/privacy"
)

const scenario = "Hi, I'm Jane Doe, email jane@acmecorp.com, card 4532015112830366."

type recordingAudit struct {
	mu      sync.Mutex
	masked  int
	leakage int
}

func (a *recordingAudit) RecordMasking(_ context.Context, _ audit.Meta, items []privacy.MaskedItem) (*audit.BatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.masked += len(items)
	return &audit.BatchResult{Inserted: int64(len(items))}, nil
}

func (a *recordingAudit) RecordLeakage(_ context.Context, _ audit.Meta, warnings []privacy.LeakageWarning) (*audit.BatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leakage += len(warnings)
	return &audit.BatchResult{Inserted: int64(len(warnings))}, nil
}

func (a *recordingAudit) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.masked, a.leakage
}

func newTestServer(t *testing.T, mutate func(*config.Config), deps Dependencies) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.WebSocket.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	if deps.Detector == nil {
		detector, err := privacy.New(cfg.Privacy, nil)
		if err != nil {
			t.Fatalf("Failed to create detector: %v", err)
		}
		deps.Detector = detector
	}

	s, err := New(cfg, logger.NewNop(), deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func do(t *testing.T, s *Server, method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:40000"
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
}

func TestMaskEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{})

	rec := do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: scenario}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp maskResponse
	decode(t, rec, &resp)
	if resp.MaskedText != "Hi, I'm [[NAME_1]], email [[EMAIL_1]], card [[CARD_1]]." {
		t.Errorf("unexpected masked text %q", resp.MaskedText)
	}
	if len(resp.MaskedItems) != 3 {
		t.Errorf("expected 3 items, got %+v", resp.MaskedItems)
	}
	if resp.Risk.RiskLevel != privacy.RiskMedium {
		t.Errorf("expected medium risk for a card, got %+v", resp.Risk)
	}

	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("expected uuid request id, got %q", rec.Header().Get(RequestIDHeader))
	}
}

func TestMaskEndpointErrors(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 64 }, Dependencies{})

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"malformed", "{not json", http.StatusBadRequest},
		{"unknown field", `{"txt":"a"}`, http.StatusBadRequest},
		{"unknown session", maskRequest{Text: "a", SessionID: "missing"}, http.StatusNotFound},
		{"too large", maskRequest{Text: strings.Repeat("a", 200)}, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/mask", tt.body, nil)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			var body map[string]string
			decode(t, rec, &body)
			if body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestSessionFlow(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{})

	rec := do(t, s, http.MethodPost, "/v1/sessions", nil, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created map[string]string
	decode(t, rec, &created)
	id := created["session_id"]

	do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: "mail bob@corp.io", SessionID: id}, nil)
	rec = do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: "cc alice@corp.io, bob@corp.io", SessionID: id}, nil)

	var masked maskResponse
	decode(t, rec, &masked)
	if masked.MaskedText != "cc [[EMAIL_2]], [[EMAIL_1]]" {
		t.Errorf("session placeholders not stable: %q", masked.MaskedText)
	}

	rec = do(t, s, http.MethodPost, "/v1/unmask", unmaskRequest{Text: "to [[EMAIL_1]] and [[EMAIL_2]]", SessionID: id}, nil)
	var unmasked map[string]string
	decode(t, rec, &unmasked)
	if unmasked["text"] != "to bob@corp.io and alice@corp.io" {
		t.Errorf("unexpected unmask %q", unmasked["text"])
	}

	if rec := do(t, s, http.MethodDelete, "/v1/sessions/"+id, nil, nil); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/v1/sessions/"+id, nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for deleted session, got %d", rec.Code)
	}
}

func TestUnmaskLeakageRiskEndpoints(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{})
	items := []privacy.MaskedItem{{
		ID: "ssn_1", Original: "555-12-6789", Placeholder: "[[SSN_1]]",
		Category: privacy.CategorySSN, Confidence: privacy.ConfidenceHigh,
	}}

	rec := do(t, s, http.MethodPost, "/v1/unmask", unmaskRequest{Text: "SSN [[SSN_1]]", MaskedItems: items}, nil)
	var unmasked map[string]string
	decode(t, rec, &unmasked)
	if unmasked["text"] != "SSN 555-12-6789" {
		t.Errorf("unexpected unmask %q", unmasked["text"])
	}

	rec = do(t, s, http.MethodPost, "/v1/leakage", leakageRequest{ResponseText: "Your SSN is 555-12-6789", MaskedItems: items}, nil)
	var leak leakageResponse
	decode(t, rec, &leak)
	if len(leak.Warnings) != 1 || leak.MaxSeverity != privacy.SeverityHigh {
		t.Errorf("unexpected leakage response %+v", leak)
	}

	rec = do(t, s, http.MethodPost, "/v1/risk", riskRequest{MaskedText: "SSN [[SSN_1]]", MaskedItems: items}, nil)
	var risk privacy.RiskAssessment
	decode(t, rec, &risk)
	if risk.RiskLevel != privacy.RiskMedium {
		t.Errorf("expected medium risk, got %+v", risk)
	}
}

func TestRuleEndpoints(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{})

	rec := do(t, s, http.MethodGet, "/v1/rules", nil, nil)
	var listed struct {
		Preset string             `json:"preset"`
		Rules  []privacy.RuleInfo `json:"rules"`
	}
	decode(t, rec, &listed)
	if listed.Preset != "custom" || len(listed.Rules) == 0 {
		t.Errorf("unexpected rules listing %+v", listed)
	}

	if rec := do(t, s, http.MethodPut, "/v1/rules/email", `{"enabled":false}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: "mail bob@corp.io"}, nil)
	var masked maskResponse
	decode(t, rec, &masked)
	if masked.MaskedText != "mail bob@corp.io" {
		t.Errorf("disabled rule still masks: %q", masked.MaskedText)
	}

	if rec := do(t, s, http.MethodPut, "/v1/rules/nope", `{"enabled":true}`, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown rule, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPut, "/v1/rules/email", `{}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without enabled, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	auditLog := &recordingAudit{}
	s := newTestServer(t, nil, Dependencies{Audit: auditLog})

	do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: scenario}, nil)

	rec := do(t, s, http.MethodGet, "/v1/stats?days=1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats struct {
		Totals struct {
			Requests int64            `json:"requests"`
			Masked   map[string]int64 `json:"masked"`
		} `json:"totals"`
	}
	decode(t, rec, &stats)
	if stats.Totals.Requests != 1 || stats.Totals.Masked["email"] != 1 || stats.Totals.Masked["credit_card"] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if rec := do(t, s, http.MethodGet, "/v1/stats?days=abc", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if masked, _ := auditLog.counts(); masked == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("audit events not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1}
	}, Dependencies{})

	if rec := do(t, s, http.MethodPost, "/v1/risk", riskRequest{}, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected first request through, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/v1/risk", riskRequest{}, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("health should not be rate limited, got %d", rec.Code)
	}
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, nil, Dependencies{})

	var health map[string]string
	decode(t, do(t, s, http.MethodGet, "/health", nil, nil), &health)
	if health["status"] != "healthy" {
		t.Errorf("unexpected health %v", health)
	}

	var info map[string]interface{}
	decode(t, do(t, s, http.MethodGet, "/info", nil, nil), &info)
	if info["name"] != "glasslm" || info["privacy_enabled"] != true {
		t.Errorf("unexpected info %v", info)
	}
}

type queryingAudit struct {
	recordingAudit
	since time.Time
	limit int
}

func (a *queryingAudit) Summarize(_ context.Context, since time.Time) (*audit.Summary, error) {
	a.since = since
	return &audit.Summary{Since: since, TotalMasked: 3, ByCategory: []audit.CategoryCount{{Category: "email", Count: 3}}}, nil
}

func (a *queryingAudit) RecentMasking(_ context.Context, limit int) ([]audit.MaskingEvent, error) {
	a.limit = limit
	return []audit.MaskingEvent{{RequestID: "r1", Category: "email", Placeholder: "[[EMAIL_1]]", Confidence: "high"}}, nil
}

func (a *queryingAudit) RecentLeakage(_ context.Context, _ int) ([]audit.LeakageEvent, error) {
	return nil, nil
}

func TestAuditEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, nil, Dependencies{Audit: &recordingAudit{}})
		if rec := do(t, s, http.MethodGet, "/v1/audit", nil, nil); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 for write-only audit, got %d", rec.Code)
		}
	})

	t.Run("summary", func(t *testing.T) {
		backend := &queryingAudit{}
		s := newTestServer(t, nil, Dependencies{Audit: backend})

		before := time.Now()
		rec := do(t, s, http.MethodGet, "/v1/audit?since=1h&limit=10", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			Summary struct {
				TotalMasked int64 `json:"total_masked"`
			} `json:"summary"`
			Masking []audit.MaskingEvent `json:"recent_masking"`
		}
		decode(t, rec, &resp)
		if resp.Summary.TotalMasked != 3 || len(resp.Masking) != 1 {
			t.Errorf("unexpected response %s", rec.Body.String())
		}
		if backend.limit != 10 {
			t.Errorf("expected limit 10, got %d", backend.limit)
		}
		if d := before.Sub(backend.since); d < 59*time.Minute || d > 61*time.Minute {
			t.Errorf("expected since about an hour ago, got %s", d)
		}
	})

	t.Run("bad params", func(t *testing.T) {
		s := newTestServer(t, nil, Dependencies{Audit: &queryingAudit{}})
		for _, path := range []string{"/v1/audit?since=yesterday", "/v1/audit?since=-1h", "/v1/audit?limit=0"} {
			if rec := do(t, s, http.MethodGet, path, nil, nil); rec.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", path, rec.Code)
			}
		}
	})
}
