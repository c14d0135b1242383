package actuator

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// Command actions sent to the media engine
const (
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
)

// Command is the JSON body of an engine request
type Command struct {
	Action      string                `json:"action"`
	StreamID    string                `json:"stream_id"`
	RecordID    int64                 `json:"record_id"`
	Type        models.StreamType     `json:"type"`
	SourceURL   string                `json:"source_url"`
	OutputURL   string                `json:"output_url,omitempty"`
	Protocol    models.StreamProtocol `json:"protocol,omitempty"`
	Recording   bool                  `json:"recording"`
	Transcode   bool                  `json:"transcode"`
	RequestedAt time.Time             `json:"requested_at"`
}

// HTTP drives a media engine over a signed JSON API:
// POST {base}/streams/{streamId}/{activate|deactivate}
type HTTP struct {
	client  *http.Client
	baseURL string
	secret  string
}

var _ stream.Actuator = (*HTTP)(nil)

// NewHTTP creates an HTTP actuator. The service bounds each call with its own
// timeout; the client timeout is only a backstop.
func NewHTTP(baseURL, secret string, timeout time.Duration) *HTTP {
	return &HTTP{
		client: &http.Client{
			Timeout: 2 * timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
	}
}

// Activate asks the engine to start ingesting a stream
func (h *HTTP) Activate(ctx context.Context, st *models.Stream) error {
	return h.send(ctx, ActionActivate, st)
}

// Deactivate asks the engine to stop a stream
func (h *HTTP) Deactivate(ctx context.Context, st *models.Stream) error {
	return h.send(ctx, ActionDeactivate, st)
}

func (h *HTTP) send(ctx context.Context, action string, st *models.Stream) error {
	payload, err := json.Marshal(Command{
		Action:      action,
		StreamID:    st.StreamID,
		RecordID:    st.ID,
		Type:        st.Type,
		SourceURL:   st.SourceURL,
		OutputURL:   st.OutputURL,
		Protocol:    st.Protocol,
		Recording:   st.RecordingEnabled,
		Transcode:   st.TranscodeEnabled,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	endpoint := fmt.Sprintf("%s/streams/%s/%s", h.baseURL, url.PathEscape(st.StreamID), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vision-Actuator/1.0")
	req.Header.Set("X-Vision-Request", uuid.New().String())

	// Add HMAC signature if secret is configured
	if h.secret != "" {
		req.Header.Set("X-Vision-Signature", Sign(payload, h.secret))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("media engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
