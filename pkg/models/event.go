package models

import "time"

// StreamEvent is published after every committed change to a stream
type StreamEvent struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	StreamID  string       `json:"stream_id"`
	RecordID  int64        `json:"record_id"`
	Status    StreamStatus `json:"status,omitempty"`
	Message   string       `json:"message,omitempty"`
	Actor     string       `json:"actor,omitempty"`
	Details   Metadata     `json:"details,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// StreamEvent type constants
const (
	StreamEventCreated       = "stream.created"
	StreamEventUpdated       = "stream.updated"
	StreamEventDeleted       = "stream.deleted"
	StreamEventStarting      = "stream.starting"
	StreamEventStarted       = "stream.started"
	StreamEventStopping      = "stream.stopping"
	StreamEventStopped       = "stream.stopped"
	StreamEventStatusChanged = "stream.status_changed"
	StreamEventError         = "stream.error"
	StreamEventErrorCleared  = "stream.error_cleared"
	StreamEventReaped        = "stream.reaped"
	StreamEventReconciled    = "stream.reconciled"
)

// TelemetryMessage is a high-frequency signal from a media engine or player
type TelemetryMessage struct {
	Type             string       `json:"type"`
	StreamID         string       `json:"stream_id"`
	CPUUsage         *float64     `json:"cpu_usage,omitempty"`
	MemoryUsage      *float64     `json:"memory_usage,omitempty"`
	NetworkBandwidth *float64     `json:"network_bandwidth,omitempty"`
	Message          string       `json:"message,omitempty"`
	Status           StreamStatus `json:"status,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

// TelemetryMessage type constants
const (
	TelemetryViewerJoin  = "viewer_join"
	TelemetryViewerLeave = "viewer_leave"
	TelemetryMetrics     = "metrics"
	TelemetryError       = "error"
	TelemetryStatus      = "status"
)

// Metadata holds free-form event details
type Metadata map[string]interface{}
