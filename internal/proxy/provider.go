package proxy

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/glasslm/internal/privacy"
)

const (
	// SessionHeader scopes a provider request to a placeholder session
	SessionHeader = "X-Glasslm-Session"
	// LeakageHeader reports the number of leakage warnings on a response
	LeakageHeader = "X-Glasslm-Leakage-Warnings"
	// LeakageSeverityHeader reports the highest warning severity
	LeakageSeverityHeader = "X-Glasslm-Leakage-Severity"
)

// handleProvider masks the request body, forwards it upstream and restores the response
func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	base, ok := s.config.Upstream.Providers()[provider]
	if !ok {
		writeError(w, http.StatusNotFound, "provider not configured: "+provider)
		return
	}
	target, err := url.Parse(base)
	if err != nil {
		log.Error("Failed to parse provider URL", zap.String("provider", provider), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "invalid provider URL")
		return
	}

	sessionID := r.Header.Get(SessionHeader)
	var registry *privacy.Registry
	if sessionID != "" && s.config.Privacy.Registry.Enabled {
		registry = s.sessions.GetOrCreate(sessionID)
	}

	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		log.Error("Failed to read request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "failed to read request")
		return
	}

	start := time.Now()
	masked, items := s.maskBody(body, registry)
	var risk privacy.RiskLevel
	if len(items) > 0 {
		risk = s.detector.AnalyzePrivacyRisk(privacy.ExtractText(masked), items).RiskLevel
	}
	s.recordMasking(r, provider, sessionID, items, risk, time.Since(start))

	restore := items
	if registry != nil {
		restore = registry.Items()
	}

	r.Body = io.NopCloser(bytes.NewReader(masked))
	r.ContentLength = int64(len(masked))
	r.Header = http.Header(s.detector.ProcessHeadersForContext(r.Header, true))
	r.Header.Del(SessionHeader)
	r.Header.Del("Content-Length")

	upstreamPath := strings.TrimPrefix(r.URL.Path, "/"+provider)

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = joinPath(target.Path, upstreamPath)
			req.URL.RawPath = ""
			req.Host = target.Host

			// Compressed responses cannot be unmasked
			req.Header.Del("Accept-Encoding")
			req.Header["X-Forwarded-For"] = nil
			if _, ok := req.Header["User-Agent"]; !ok {
				req.Header.Set("User-Agent", "glasslm/"+Version)
			}

			log.Debug("Proxying request",
				zap.String("provider", provider),
				zap.String("target_url", req.URL.String()),
				zap.String("method", req.Method),
			)
		},
		Transport:     s.transport,
		FlushInterval: -1,
		ModifyResponse: func(resp *http.Response) error {
			return s.restoreResponse(resp, r, provider, sessionID, restore)
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			log.Error("Proxy error", zap.String("provider", provider), zap.Error(err))
			writeError(w, http.StatusBadGateway, "upstream request failed")
		},
	}

	rp.ServeHTTP(w, r)

	log.Info("Request proxied",
		zap.String("provider", provider),
		zap.Int("masked_items", len(items)),
		zap.Duration("upstream_duration", time.Since(start)),
	)
}

// maskBody masks JSON string leaves, or the whole body when it is not JSON
func (s *Server) maskBody(body []byte, registry *privacy.Registry) ([]byte, []privacy.MaskedItem) {
	if len(body) == 0 {
		return body, nil
	}
	if out, items, ok := s.detector.MaskJSON(body, registry); ok {
		return out, items
	}
	result := s.detector.MaskWithRegistry(string(body), registry)
	return []byte(result.MaskedText), result.Items
}

// restoreResponse runs leakage detection on the provider reply and puts originals back
func (s *Server) restoreResponse(resp *http.Response, r *http.Request, provider, sessionID string, items []privacy.MaskedItem) error {
	if len(items) == 0 {
		return nil
	}

	log := s.logger.WithRequestID(getRequestID(r.Context()))
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		log.Warn("Compressed upstream response left masked",
			zap.String("provider", provider),
			zap.String("content_encoding", enc),
		)
		return nil
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		resp.Body = newSSEUnmasker(resp.Body, items)
		resp.ContentLength = -1
		resp.Header.Del("Content-Length")
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	warnings := s.detector.DetectLeakage(privacy.ExtractText(body), items)
	if len(warnings) > 0 {
		s.recordLeakage(r, provider, sessionID, warnings)
		resp.Header.Set(LeakageHeader, strconv.Itoa(len(warnings)))
		resp.Header.Set(LeakageSeverityHeader, string(privacy.MaxSeverity(warnings)))
	}

	restored := privacy.UnmaskJSON(body, items)
	resp.Body = io.NopCloser(bytes.NewReader(restored))
	resp.ContentLength = int64(len(restored))
	resp.Header.Set("Content-Length", strconv.Itoa(len(restored)))
	return nil
}

func joinPath(base, path string) string {
	if path == "" {
		path = "/"
	}
	switch {
	case base == "":
		return path
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	}
	return base + path
}
