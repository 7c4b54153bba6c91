package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/glasslm/internal/audit"
	"github.com/raaihank/glasslm/internal/privacy"
	"github.com/raaihank/glasslm/internal/security"
	"github.com/raaihank/glasslm/internal/websocket"
)

type maskRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

type maskResponse struct {
	MaskedText  string                 `json:"masked_text"`
	MaskedItems []privacy.MaskedItem   `json:"masked_items"`
	Risk        privacy.RiskAssessment `json:"risk"`
	SessionID   string                 `json:"session_id,omitempty"`
}

type unmaskRequest struct {
	Text        string               `json:"text"`
	MaskedItems []privacy.MaskedItem `json:"masked_items"`
	SessionID   string               `json:"session_id,omitempty"`
}

type leakageRequest struct {
	ResponseText string               `json:"response_text"`
	MaskedItems  []privacy.MaskedItem `json:"masked_items"`
}

type leakageResponse struct {
	Warnings    []privacy.LeakageWarning `json:"warnings"`
	MaxSeverity privacy.Severity         `json:"max_severity,omitempty"`
}

type riskRequest struct {
	MaskedText  string               `json:"masked_text"`
	MaskedItems []privacy.MaskedItem `json:"masked_items"`
}

type ruleUpdate struct {
	Enabled *bool `json:"enabled"`
}

var errSessionNotFound = errors.New("session not found")

// handleMask masks text, optionally within a session
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	registry, err := s.registryFor(req.SessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	start := time.Now()
	result := s.detector.MaskWithRegistry(req.Text, registry)
	risk := s.detector.AnalyzePrivacyRisk(result.MaskedText, result.Items)

	s.recordMasking(r, "", req.SessionID, result.Items, risk.RiskLevel, time.Since(start))

	writeJSON(w, http.StatusOK, maskResponse{
		MaskedText:  result.MaskedText,
		MaskedItems: result.Items,
		Risk:        risk,
		SessionID:   req.SessionID,
	})
}

// handleUnmask restores originals from the given items or the session registry
func (s *Server) handleUnmask(w http.ResponseWriter, r *http.Request) {
	var req unmaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	items := req.MaskedItems
	if len(items) == 0 && req.SessionID != "" {
		registry, err := s.registryFor(req.SessionID)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		items = registry.Items()
	}

	writeJSON(w, http.StatusOK, map[string]string{"text": s.detector.Unmask(req.Text, items)})
}

// handleLeakage checks a response for masked values
func (s *Server) handleLeakage(w http.ResponseWriter, r *http.Request) {
	var req leakageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	warnings := s.detector.DetectLeakage(req.ResponseText, req.MaskedItems)
	s.recordLeakage(r, "", "", warnings)

	resp := leakageResponse{Warnings: warnings}
	if len(warnings) > 0 {
		resp.MaxSeverity = privacy.MaxSeverity(warnings)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRisk scores masked text for re-identification risk
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.detector.AnalyzePrivacyRisk(req.MaskedText, req.MaskedItems))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.Create()
	s.logger.WithSession(id).Info("Session created")
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.sessions.List()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, errSessionNotFound.Error())
		return
	}
	s.logger.WithSession(id).Info("Session deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"preset":  s.detector.Preset(),
		"presets": privacy.PresetNames(),
		"rules":   s.detector.Rules(),
	})
}

// handleSetRule enables or disables a rule or a whole category
func (s *Server) handleSetRule(w http.ResponseWriter, r *http.Request) {
	var req ruleUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	name := mux.Vars(r)["name"]
	var err error
	if *req.Enabled {
		err = s.detector.EnableRule(name)
	} else {
		err = s.detector.DisableRule(name)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "enabled": *req.Enabled})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 90 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 90")
			return
		}
		days = n
	}

	stats, err := s.counter.Snapshot(r.Context(), days)
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to read counters", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "counters unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type auditResponse struct {
	Summary *audit.Summary       `json:"summary"`
	Masking []audit.MaskingEvent `json:"recent_masking"`
	Leakage []audit.LeakageEvent `json:"recent_leakage"`
}

// handleAudit reports the audit trail since ?since (a duration, default 24h)
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.audit.(AuditReader)
	if !ok {
		writeError(w, http.StatusNotFound, "audit trail not enabled")
		return
	}

	window := 24 * time.Hour
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "since must be a positive duration such as 24h")
			return
		}
		window = d
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	ctx := r.Context()
	log := s.logger.WithRequestID(getRequestID(ctx))
	var resp auditResponse
	var err error
	if resp.Summary, err = reader.Summarize(ctx, time.Now().Add(-window)); err == nil {
		if resp.Masking, err = reader.RecentMasking(ctx, limit); err == nil {
			resp.Leakage, err = reader.RecentLeakage(ctx, limit)
		}
	}
	if err != nil {
		log.Error("Failed to query audit trail", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "audit trail unavailable")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":            "glasslm",
		"version":         Version,
		"privacy_enabled": s.detector.Enabled(),
		"preset":          s.detector.Preset(),
		"active_rules":    len(s.detector.GetEnabledRules()),
		"providers":       providerNames(s.config.Upstream),
		"active_sessions": s.sessions.Len(),
		"websocket":       s.wsHub.GetStats(),
	})
}

// registryFor resolves a session ID. An empty ID means no session.
func (s *Server) registryFor(sessionID string) (*privacy.Registry, error) {
	if sessionID == "" || !s.config.Privacy.Registry.Enabled {
		return nil, nil
	}
	registry, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, errSessionNotFound
	}
	return registry, nil
}

// recordMasking fans masking metadata out to logs, counters, events and audit
func (s *Server) recordMasking(r *http.Request, provider, sessionID string, items []privacy.MaskedItem, risk privacy.RiskLevel, took time.Duration) {
	s.totalRequests.Add(1)
	requestID := getRequestID(r.Context())
	s.counter.RecordRequest(r.Context(), provider)

	if len(items) == 0 {
		return
	}
	s.totalMasked.Add(int64(len(items)))

	findings := privacy.Summarize(items)
	s.logger.WithRequestID(requestID).Info("Sensitive values masked",
		zap.String("provider", provider),
		zap.Int("items", len(items)),
		zap.Any("findings", findings),
	)

	counts := make(map[string]int, len(findings))
	for _, f := range findings {
		counts[string(f.EntityType)] = f.Count
	}
	if err := s.counter.RecordMasking(r.Context(), counts); err != nil {
		s.logger.Warn("Failed to record masking counters", zap.Error(err))
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeMasking,
		RequestID: requestID,
		Data: websocket.MaskingEvent{
			RequestID:    requestID,
			SessionID:    sessionID,
			Provider:     provider,
			Method:       r.Method,
			Path:         r.URL.Path,
			ClientIP:     security.ClientIP(r),
			Findings:     findings,
			TotalItems:   len(items),
			RiskLevel:    risk,
			ProcessingMS: float64(took.Microseconds()) / 1000,
		},
	})

	if s.audit != nil {
		meta := audit.Meta{RequestID: requestID, SessionID: sessionID, Provider: provider}
		items := append([]privacy.MaskedItem(nil), items...)
		go s.writeAudit(func(ctx context.Context) error {
			_, err := s.audit.RecordMasking(ctx, meta, items)
			return err
		})
	}
}

// recordLeakage fans leakage warnings out to logs, counters, events and audit
func (s *Server) recordLeakage(r *http.Request, provider, sessionID string, warnings []privacy.LeakageWarning) {
	if len(warnings) == 0 {
		return
	}
	requestID := getRequestID(r.Context())

	counts := make(map[string]int)
	for _, w := range warnings {
		counts[string(w.Severity)]++
	}
	if err := s.counter.RecordLeakage(r.Context(), counts); err != nil {
		s.logger.Warn("Failed to record leakage counters", zap.Error(err))
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeLeakage,
		RequestID: requestID,
		Data:      websocket.NewLeakageEvent(requestID, sessionID, provider, warnings),
	})

	if s.audit != nil {
		meta := audit.Meta{RequestID: requestID, SessionID: sessionID, Provider: provider}
		go s.writeAudit(func(ctx context.Context) error {
			_, err := s.audit.RecordLeakage(ctx, meta, warnings)
			return err
		})
	}
}

func (s *Server) writeAudit(write func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := write(ctx); err != nil {
		s.logger.Warn("Failed to write audit events", zap.Error(err))
	}
}

// decodeBody decodes a JSON request body or writes a 400
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
