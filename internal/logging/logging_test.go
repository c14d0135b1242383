package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Unwritable file path",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: filepath.Join(os.TempDir(), "missing-dir-vision", "nested", "out.log"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func TestNewLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vision.log")

	logger, err := NewLogger(Config{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	logger.Info("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !bytes.Contains(data, []byte("written to file")) {
		t.Errorf("Expected log file to contain message, got %s", data)
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestWithStreamID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf)).WithStreamID("cam-01")

	logger.Info("stream started")

	entry := decodeLine(t, &buf)
	if entry["stream_id"] != "cam-01" {
		t.Errorf("Expected stream_id=cam-01, got %v", entry["stream_id"])
	}
	if entry["message"] != "stream started" {
		t.Errorf("Expected message, got %v", entry["message"])
	}
}

func TestLogStreamEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf))

	logger.LogStreamEvent("cam-02", "stream.started", "ACTIVE", map[string]interface{}{
		"viewer_count": 3,
	})

	entry := decodeLine(t, &buf)
	if entry["event"] != "stream.started" {
		t.Errorf("Expected event=stream.started, got %v", entry["event"])
	}
	if entry["status"] != "ACTIVE" {
		t.Errorf("Expected status=ACTIVE, got %v", entry["status"])
	}
	if entry["viewer_count"] != float64(3) {
		t.Errorf("Expected viewer_count=3, got %v", entry["viewer_count"])
	}
}

func TestLogActuatorCallError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf))

	logger.LogActuatorCall("cam-03", "start", 20*time.Millisecond, errors.New("engine offline"))

	entry := decodeLine(t, &buf)
	if entry["level"] != "error" {
		t.Errorf("Expected level=error, got %v", entry["level"])
	}
	if entry["error"] != "engine offline" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
}

func TestLogHTTPRequestServerError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(zerolog.New(&buf))

	logger.LogHTTPRequest("POST", "/api/v1/streams/1/start", "10.0.0.1", 502, 100*time.Millisecond)

	entry := decodeLine(t, &buf)
	if entry["level"] != "error" {
		t.Errorf("Expected level=error for 5xx, got %v", entry["level"])
	}
	if entry["status_code"] != float64(502) {
		t.Errorf("Expected status_code=502, got %v", entry["status_code"])
	}
}

func TestLoggerWithFields(t *testing.T) {
	logger, err := NewLogger(Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	if logger.WithField("key", "value") == nil {
		t.Error("Expected non-nil logger from WithField")
	}

	fieldsLogger := logger.WithFields(map[string]interface{}{
		"key1": "value1",
		"key2": 123,
	})
	if fieldsLogger == nil {
		t.Error("Expected non-nil logger from WithFields")
	}

	if logger.WithRequestID("req-123") == nil {
		t.Error("Expected non-nil logger from WithRequestID")
	}

	if logger.WithComponent("reaper") == nil {
		t.Error("Expected non-nil logger from WithComponent")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("dropped")
	logger.ErrorWithErr("dropped", errors.New("boom"))
	logger.LogDatabaseOperation("SELECT", time.Millisecond, nil)
	// Should not panic
}

func TestNewDefaultLogger(t *testing.T) {
	logger, err := NewDefaultLogger()
	if err != nil {
		t.Errorf("NewDefaultLogger() error = %v", err)
	}
	if logger == nil {
		t.Error("Expected non-nil logger from NewDefaultLogger")
	}
}

func BenchmarkLogStreamEvent(b *testing.B) {
	logger := New(zerolog.Nop())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.LogStreamEvent("cam-01", "stream.started", "ACTIVE", nil)
	}
}
