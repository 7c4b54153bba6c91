package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/glasslm/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeMasking is sent when a request had values masked
	EventTypeMasking EventType = "masking"
	// EventTypeLeakage is sent when a response echoed masked values
	EventTypeLeakage EventType = "leakage"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"

	eventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// MaskingEvent reports what was masked in one request. Originals never leave the process.
type MaskingEvent struct {
	RequestID    string            `json:"request_id"`
	SessionID    string            `json:"session_id,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	ClientIP     string            `json:"client_ip"`
	Findings     []privacy.Finding `json:"findings"`
	TotalItems   int               `json:"total_items"`
	RiskLevel    privacy.RiskLevel `json:"risk_level,omitempty"`
	ProcessingMS float64           `json:"processing_ms"`
}

// LeakageNotice is a leakage warning stripped of the matched text
type LeakageNotice struct {
	Kind        privacy.LeakageKind `json:"kind"`
	Severity    privacy.Severity    `json:"severity"`
	Category    privacy.Category    `json:"category"`
	Description string              `json:"description"`
}

// LeakageEvent reports leakage warnings raised on a provider response
type LeakageEvent struct {
	RequestID   string           `json:"request_id"`
	SessionID   string           `json:"session_id,omitempty"`
	Provider    string           `json:"provider,omitempty"`
	MaxSeverity privacy.Severity `json:"max_severity"`
	Warnings    []LeakageNotice  `json:"warnings"`
}

// NewLeakageEvent builds a broadcastable event from detector warnings
func NewLeakageEvent(requestID, sessionID, provider string, warnings []privacy.LeakageWarning) LeakageEvent {
	notices := make([]LeakageNotice, len(warnings))
	for i, w := range warnings {
		notices[i] = LeakageNotice{Kind: w.Kind, Severity: w.Severity, Category: w.Category, Description: w.Description}
	}
	return LeakageEvent{
		RequestID:   requestID,
		SessionID:   sessionID,
		Provider:    provider,
		MaxSeverity: privacy.MaxSeverity(warnings),
		Warnings:    notices,
	}
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string            `json:"request_id"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	StatusCode   int               `json:"status_code"`
	ClientIP     string            `json:"client_ip"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Duration     time.Duration     `json:"duration"`
	RequestSize  int64             `json:"request_size"`
	ResponseSize int64             `json:"response_size"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	Preset           string `json:"preset"`
	ActiveRules      int    `json:"active_rules"`
	ActiveSessions   int    `json:"active_sessions"`
	TotalRequests    int64  `json:"total_requests"`
	TotalMasked      int64  `json:"total_masked"`
	ConnectedClients int    `json:"connected_clients"`
	MemoryUsage      string `json:"memory_usage"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows the events a subscribed client receives
type EventFilter struct {
	// MinSeverity drops leakage events below this severity
	MinSeverity string `json:"min_severity,omitempty"`
	// Categories keeps masking events with at least one matching category
	Categories    []string `json:"categories,omitempty"`
	Providers     []string `json:"providers,omitempty"`
	PathPrefixes  []string `json:"path_prefixes,omitempty"`
	ExcludeHealth bool     `json:"exclude_health,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu           sync.Mutex
	subscription *SubscriptionRequest
	lastPing     time.Time
}

// Subscribe replaces the client's subscription
func (c *Client) Subscribe(sub *SubscriptionRequest) {
	c.mu.Lock()
	c.subscription = sub
	c.mu.Unlock()
}

func (c *Client) currentSubscription() *SubscriptionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription
}
