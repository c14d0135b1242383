package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

const archivePrefix = "archive/streams/"

// ArchiveEntry describes one archived snapshot
type ArchiveEntry struct {
	Key        string    `json:"key"`
	StreamID   string    `json:"stream_id"`
	ArchivedAt time.Time `json:"archived_at"`
	Size       int64     `json:"size"`
	URL        string    `json:"url,omitempty"`
}

// Archiver keeps the final JSON snapshot of deleted streams.
// It implements stream.Archiver.
type Archiver struct {
	storage *Storage
	now     func() time.Time
}

var _ stream.Archiver = (*Archiver)(nil)

// NewArchiver creates an archiver on top of a storage client
func NewArchiver(s *Storage) *Archiver {
	return &Archiver{storage: s, now: time.Now}
}

// ArchiveStream writes archive/streams/<streamId>/<unix-nanos>.json
func (a *Archiver) ArchiveStream(ctx context.Context, s *models.Stream) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal stream snapshot: %w", err)
	}

	key := archiveKey(s.StreamID, a.now())
	return a.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json")
}

// ListArchives returns the snapshots of a stream id, newest first, each with a
// presigned URL valid for urlTTL
func (a *Archiver) ListArchives(ctx context.Context, streamID string, urlTTL time.Duration) ([]ArchiveEntry, error) {
	entries, err := a.entries(ctx, streamID)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if entries[i].URL, err = a.storage.GetURL(ctx, entries[i].Key, urlTTL); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// PruneArchives deletes all but the newest keep snapshots of a stream id and
// returns how many were removed
func (a *Archiver) PruneArchives(ctx context.Context, streamID string, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative")
	}

	entries, err := a.entries(ctx, streamID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := keep; i < len(entries); i++ {
		if err := a.storage.Delete(ctx, entries[i].Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// entries lists snapshots newest first, without URLs
func (a *Archiver) entries(ctx context.Context, streamID string) ([]ArchiveEntry, error) {
	objects, err := a.storage.List(ctx, archivePrefix+streamID+"/")
	if err != nil {
		return nil, err
	}

	entries := make([]ArchiveEntry, 0, len(objects))
	for _, obj := range objects {
		at, ok := parseArchiveKey(obj.Key)
		if !ok {
			continue
		}
		entries = append(entries, ArchiveEntry{
			Key:        obj.Key,
			StreamID:   streamID,
			ArchivedAt: at,
			Size:       obj.Size,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ArchivedAt.After(entries[j].ArchivedAt)
	})
	return entries, nil
}

func archiveKey(streamID string, at time.Time) string {
	return fmt.Sprintf("%s%s/%d.json", archivePrefix, streamID, at.UnixNano())
}

func parseArchiveKey(key string) (time.Time, bool) {
	base := strings.TrimSuffix(path.Base(key), ".json")
	nanos, err := strconv.ParseInt(base, 10, 64)
	if err != nil || !strings.HasPrefix(key, archivePrefix) {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}
