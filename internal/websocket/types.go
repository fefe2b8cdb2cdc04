package websocket

import (
	"time"

	"github.com/raaihank/ad-sentinel/internal/violation"
)

// EventType represents the type of WebSocket event.
type EventType string

const (
	// EventTypeViolation represents a violation detection event.
	EventTypeViolation EventType = "violation_detection"
	// EventTypeRequestLog represents a request logging event.
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event.
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events.
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// ViolationEvent summarizes one analyzed document for dashboards.
type ViolationEvent struct {
	RequestID    string             `json:"request_id"`
	DocumentID   string             `json:"document_id,omitempty"`
	Violations   []violation.Result `json:"violations"`
	Grade        string             `json:"grade"`
	CleanScore   float64            `json:"clean_score"`
	Degraded     bool               `json:"degraded"`
	ProcessingMS int64              `json:"processing_ms"`
}

// RequestLogEvent represents a request logging event.
type RequestLogEvent struct {
	RequestID  string        `json:"request_id"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	StatusCode int           `json:"status_code"`
	ClientIP   string        `json:"client_ip"`
	Duration   time.Duration `json:"duration"`
}

// SystemStatusEvent represents system status information.
type SystemStatusEvent struct {
	Status           string `json:"status"`
	ActivePatterns   int    `json:"active_patterns"`
	TotalAnalyses    int64  `json:"total_analyses"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events.
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}
