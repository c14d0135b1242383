package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Stream represents a managed video stream record
type Stream struct {
	ID          int64          `json:"id" db:"id"`
	StreamID    string         `json:"stream_id" db:"stream_id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description,omitempty" db:"description"`
	Type        StreamType     `json:"type" db:"type"`
	Status      StreamStatus   `json:"status" db:"status"`
	SourceURL   string         `json:"source_url" db:"source_url"`
	OutputURL   string         `json:"output_url,omitempty" db:"output_url"`
	Protocol    StreamProtocol `json:"protocol,omitempty" db:"protocol"`
	Quality     StreamQuality  `json:"quality,omitempty" db:"quality"`
	Width       *int           `json:"width,omitempty" db:"width"`
	Height      *int           `json:"height,omitempty" db:"height"`
	FrameRate   *int           `json:"frame_rate,omitempty" db:"frame_rate"`
	Bitrate     *int           `json:"bitrate,omitempty" db:"bitrate"` // in kbps

	// Weak reference to a device, never an owning one
	DeviceID *int64 `json:"device_id,omitempty" db:"device_id"`

	// Recording settings
	RecordingEnabled  bool   `json:"recording_enabled" db:"recording_enabled"`
	RecordingPath     string `json:"recording_path,omitempty" db:"recording_path"`
	RecordingDuration *int   `json:"recording_duration,omitempty" db:"recording_duration"` // in minutes

	// Transcoding settings
	TranscodeEnabled bool   `json:"transcode_enabled" db:"transcode_enabled"`
	TranscodeFormat  string `json:"transcode_format,omitempty" db:"transcode_format"`
	TranscodeQuality string `json:"transcode_quality,omitempty" db:"transcode_quality"`

	// Live telemetry
	LastActiveTime   *time.Time `json:"last_active_time,omitempty" db:"last_active_time"`
	ViewerCount      int64      `json:"viewer_count" db:"viewer_count"`
	CPUUsage         *float64   `json:"cpu_usage,omitempty" db:"cpu_usage"`
	MemoryUsage      *float64   `json:"memory_usage,omitempty" db:"memory_usage"`
	NetworkBandwidth *float64   `json:"network_bandwidth,omitempty" db:"network_bandwidth"`

	// Error telemetry
	LastError     *string    `json:"last_error,omitempty" db:"last_error"`
	LastErrorTime *time.Time `json:"last_error_time,omitempty" db:"last_error_time"`
	ErrorCount    int        `json:"error_count" db:"error_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	// Written only when the status column is; telemetry leaves it alone
	StatusChangedAt time.Time `json:"status_changed_at" db:"status_changed_at"`
	CreatedBy string    `json:"created_by,omitempty" db:"created_by"`
	UpdatedBy string    `json:"updated_by,omitempty" db:"updated_by"`
}

// IsActive reports whether the stream is running
func (s *Stream) IsActive() bool {
	return s.Status == StreamStatusActive
}

// IsInactive reports whether the stream is idle
func (s *Stream) IsInactive() bool {
	return s.Status == StreamStatusInactive
}

// HasError reports whether the stream is in the error state
func (s *Stream) HasError() bool {
	return s.Status == StreamStatusError
}

// Clone returns a deep copy of the stream
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	c := *s
	c.Width = cloneInt(s.Width)
	c.Height = cloneInt(s.Height)
	c.FrameRate = cloneInt(s.FrameRate)
	c.Bitrate = cloneInt(s.Bitrate)
	c.RecordingDuration = cloneInt(s.RecordingDuration)
	c.CPUUsage = cloneFloat(s.CPUUsage)
	c.MemoryUsage = cloneFloat(s.MemoryUsage)
	c.NetworkBandwidth = cloneFloat(s.NetworkBandwidth)
	c.LastActiveTime = cloneTime(s.LastActiveTime)
	c.LastErrorTime = cloneTime(s.LastErrorTime)
	if s.DeviceID != nil {
		id := *s.DeviceID
		c.DeviceID = &id
	}
	if s.LastError != nil {
		msg := *s.LastError
		c.LastError = &msg
	}
	return &c
}

// StreamDescriptor holds the caller-owned, mutable fields of a stream.
// Status and telemetry are owned by the lifecycle engine and are not part of it.
type StreamDescriptor struct {
	StreamID          string         `json:"stream_id" binding:"required"`
	Name              string         `json:"name" binding:"required"`
	Description       string         `json:"description"`
	Type              StreamType     `json:"type" binding:"required"`
	SourceURL         string         `json:"source_url" binding:"required"`
	OutputURL         string         `json:"output_url"`
	Protocol          StreamProtocol `json:"protocol"`
	Quality           StreamQuality  `json:"quality"`
	Width             *int           `json:"width"`
	Height            *int           `json:"height"`
	FrameRate         *int           `json:"frame_rate"`
	Bitrate           *int           `json:"bitrate"`
	DeviceID          *int64         `json:"device_id"`
	RecordingEnabled  bool           `json:"recording_enabled"`
	RecordingPath     string         `json:"recording_path"`
	RecordingDuration *int           `json:"recording_duration"`
	TranscodeEnabled  bool           `json:"transcode_enabled"`
	TranscodeFormat   string         `json:"transcode_format"`
	TranscodeQuality  string         `json:"transcode_quality"`
}

// Column widths of the streams table, in characters
const (
	MaxStreamIDLength        = 100
	MaxNameLength            = 255
	MaxTranscodeOptionLength = 50
)

// Validate checks required fields, lengths and enumerations
func (d *StreamDescriptor) Validate() error {
	if d.StreamID == "" {
		return fmt.Errorf("stream_id is required")
	}
	if n := utf8.RuneCountInString(d.StreamID); n > MaxStreamIDLength {
		return fmt.Errorf("stream_id is %d characters, at most %d allowed", n, MaxStreamIDLength)
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if n := utf8.RuneCountInString(d.Name); n > MaxNameLength {
		return fmt.Errorf("name is %d characters, at most %d allowed", n, MaxNameLength)
	}
	if utf8.RuneCountInString(d.TranscodeFormat) > MaxTranscodeOptionLength ||
		utf8.RuneCountInString(d.TranscodeQuality) > MaxTranscodeOptionLength {
		return fmt.Errorf("transcode options are limited to %d characters", MaxTranscodeOptionLength)
	}
	if d.SourceURL == "" {
		return fmt.Errorf("source_url is required")
	}
	if !d.Type.Valid() {
		return fmt.Errorf("invalid stream type %q", d.Type)
	}
	if d.Protocol != "" && !d.Protocol.Valid() {
		return fmt.Errorf("invalid protocol %q", d.Protocol)
	}
	if d.Quality != "" && !d.Quality.Valid() {
		return fmt.Errorf("invalid quality %q", d.Quality)
	}
	return nil
}

// Apply copies the descriptor onto a stream record
func (d *StreamDescriptor) Apply(s *Stream) {
	s.StreamID = d.StreamID
	s.Name = d.Name
	s.Description = d.Description
	s.Type = d.Type
	s.SourceURL = d.SourceURL
	s.OutputURL = d.OutputURL
	s.Protocol = d.Protocol
	s.Quality = d.Quality
	s.Width = cloneInt(d.Width)
	s.Height = cloneInt(d.Height)
	s.FrameRate = cloneInt(d.FrameRate)
	s.Bitrate = cloneInt(d.Bitrate)
	s.DeviceID = nil
	if d.DeviceID != nil {
		id := *d.DeviceID
		s.DeviceID = &id
	}
	s.RecordingEnabled = d.RecordingEnabled
	s.RecordingPath = d.RecordingPath
	s.RecordingDuration = cloneInt(d.RecordingDuration)
	s.TranscodeEnabled = d.TranscodeEnabled
	s.TranscodeFormat = d.TranscodeFormat
	s.TranscodeQuality = d.TranscodeQuality
}

// StreamType is the ingest/delivery kind of a stream
type StreamType string

// StreamType constants
const (
	StreamTypeRTSP   StreamType = "RTSP"
	StreamTypeRTMP   StreamType = "RTMP"
	StreamTypeHTTP   StreamType = "HTTP"
	StreamTypeHLS    StreamType = "HLS"
	StreamTypeWebRTC StreamType = "WEBRTC"
	StreamTypeFile   StreamType = "FILE"
)

// Valid reports whether t is a known stream type
func (t StreamType) Valid() bool {
	switch t {
	case StreamTypeRTSP, StreamTypeRTMP, StreamTypeHTTP, StreamTypeHLS, StreamTypeWebRTC, StreamTypeFile:
		return true
	}
	return false
}

// StreamStatus is the lifecycle state of a stream
type StreamStatus string

// StreamStatus constants
const (
	StreamStatusInactive    StreamStatus = "INACTIVE"    // Idle
	StreamStatusStarting    StreamStatus = "STARTING"    // Waiting on the media engine
	StreamStatusActive      StreamStatus = "ACTIVE"      // Running
	StreamStatusStopping    StreamStatus = "STOPPING"    // Waiting on the media engine
	StreamStatusError       StreamStatus = "ERROR"       // Failed until cleared and restarted
	StreamStatusMaintenance StreamStatus = "MAINTENANCE" // Administrative
)

// AllStreamStatuses lists every status in display order
var AllStreamStatuses = []StreamStatus{
	StreamStatusInactive,
	StreamStatusStarting,
	StreamStatusActive,
	StreamStatusStopping,
	StreamStatusError,
	StreamStatusMaintenance,
}

// Valid reports whether s is a known status
func (s StreamStatus) Valid() bool {
	for _, known := range AllStreamStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTransient reports whether s is STARTING or STOPPING
func (s StreamStatus) IsTransient() bool {
	return s == StreamStatusStarting || s == StreamStatusStopping
}

// ParseStreamStatus converts a raw string into a StreamStatus
func ParseStreamStatus(raw string) (StreamStatus, error) {
	s := StreamStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stream status %q", raw)
	}
	return s, nil
}

// StreamProtocol is the transport protocol of a stream
type StreamProtocol string

// StreamProtocol constants
const (
	StreamProtocolTCP       StreamProtocol = "TCP"
	StreamProtocolUDP       StreamProtocol = "UDP"
	StreamProtocolHTTP      StreamProtocol = "HTTP"
	StreamProtocolHTTPS     StreamProtocol = "HTTPS"
	StreamProtocolWebSocket StreamProtocol = "WEBSOCKET"
)

// Valid reports whether p is a known protocol
func (p StreamProtocol) Valid() bool {
	switch p {
	case StreamProtocolTCP, StreamProtocolUDP, StreamProtocolHTTP, StreamProtocolHTTPS, StreamProtocolWebSocket:
		return true
	}
	return false
}

// StreamQuality is the nominal quality tier of a stream
type StreamQuality string

// StreamQuality constants
const (
	StreamQualityLow    StreamQuality = "LOW"
	StreamQualityMedium StreamQuality = "MEDIUM"
	StreamQualityHigh   StreamQuality = "HIGH"
	StreamQualityUltra  StreamQuality = "ULTRA"
	StreamQualityAuto   StreamQuality = "AUTO"
)

// Valid reports whether q is a known quality tier
func (q StreamQuality) Valid() bool {
	switch q {
	case StreamQualityLow, StreamQualityMedium, StreamQualityHigh, StreamQualityUltra, StreamQualityAuto:
		return true
	}
	return false
}

// StreamStatistics is a read-only rollup over the registry
type StreamStatistics struct {
	StatusCounts          map[StreamStatus]int64 `json:"status_counts"`
	TypeCounts            map[StreamType]int64   `json:"type_counts"`
	TotalStreams          int64                  `json:"total_streams"`
	ActiveStreams         int64                  `json:"active_streams"`
	ErrorStreams          int64                  `json:"error_streams"`
	TotalViewers          int64                  `json:"total_viewers"`
	AverageCPUUsage       *float64               `json:"average_cpu_usage"`
	AverageMemoryUsage    *float64               `json:"average_memory_usage"`
	TotalNetworkBandwidth *float64               `json:"total_network_bandwidth"`
	GeneratedAt           time.Time              `json:"generated_at"`
}

// Device is the subset of a registered device this service needs
type Device struct {
	ID       int64  `json:"id" db:"id"`
	DeviceID string `json:"device_id" db:"device_id"`
	Name     string `json:"name" db:"name"`
	Status   string `json:"status" db:"status"`
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
