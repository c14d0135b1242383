package stream

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// MemoryStore is an in-process Store used for local development and tests.
// Every method holds the store mutex for its whole read-modify-write.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	streams  map[int64]*models.Stream
	byStream map[string]int64
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:  make(map[int64]*models.Stream),
		byStream: make(map[string]int64),
		now:      time.Now,
	}
}

// Create inserts a stream and assigns its ID and timestamps
func (m *MemoryStore) Create(ctx context.Context, s *models.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byStream[s.StreamID]; exists {
		return ErrDuplicateStreamID
	}

	m.nextID++
	now := m.now()
	s.ID = m.nextID
	s.CreatedAt = now
	s.UpdatedAt = now
	s.StatusChangedAt = now

	m.streams[s.ID] = s.Clone()
	m.byStream[s.StreamID] = s.ID
	return nil
}

// Get returns a stream by surrogate ID
func (m *MemoryStore) Get(ctx context.Context, id int64) (*models.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// GetByStreamID returns a stream by its caller-chosen identifier
func (m *MemoryStore) GetByStreamID(ctx context.Context, streamID string) (*models.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byStream[streamID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.streams[id].Clone(), nil
}

// UpdateDescriptor replaces the descriptive fields of a stream
func (m *MemoryStore) UpdateDescriptor(ctx context.Context, id int64, d *models.StreamDescriptor, actor string) (*models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	if other, exists := m.byStream[d.StreamID]; exists && other != id {
		return nil, ErrDuplicateStreamID
	}

	delete(m.byStream, s.StreamID)
	d.Apply(s)
	s.UpdatedBy = actor
	s.UpdatedAt = m.now()
	m.byStream[s.StreamID] = id

	return s.Clone(), nil
}

// Delete removes a stream
func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byStream, s.StreamID)
	delete(m.streams, id)
	return nil
}

// List returns matching streams ordered by creation time, newest first
func (m *MemoryStore) List(ctx context.Context, f ListFilter) ([]*models.Stream, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*models.Stream, 0)
	for _, s := range m.streams {
		if filterMatches(f, s) {
			matched = append(matched, s)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := f.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}

	out := make([]*models.Stream, 0, end-start)
	for _, s := range matched[start:end] {
		out = append(out, s.Clone())
	}
	return out, total, nil
}

// Transition applies a guarded field-level status update
func (m *MemoryStore) Transition(ctx context.Context, id int64, t Transition) (*models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !t.Matches(s) {
		return nil, ErrStatusConflict
	}
	t.Apply(s, m.now())
	return s.Clone(), nil
}

// AdjustViewers adds delta to the viewer count, clamping at zero
func (m *MemoryStore) AdjustViewers(ctx context.Context, streamID string, delta int64, activeAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byStream[streamID]
	if !ok {
		return ErrNotFound
	}
	s := m.streams[id]
	s.ViewerCount += delta
	if s.ViewerCount < 0 {
		s.ViewerCount = 0
	}
	if activeAt != nil {
		at := *activeAt
		s.LastActiveTime = &at
	}
	s.UpdatedAt = m.now()
	return nil
}

// UpdateMetrics overwrites all three resource fields
func (m *MemoryStore) UpdateMetrics(ctx context.Context, streamID string, metrics Metrics, activeAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byStream[streamID]
	if !ok {
		return ErrNotFound
	}
	s := m.streams[id]
	s.CPUUsage = copyFloat(metrics.CPUUsage)
	s.MemoryUsage = copyFloat(metrics.MemoryUsage)
	s.NetworkBandwidth = copyFloat(metrics.NetworkBandwidth)
	s.LastActiveTime = &activeAt
	s.UpdatedAt = m.now()
	return nil
}

// Statistics computes the registry rollup
func (m *MemoryStore) Statistics(ctx context.Context) (*models.StreamStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.StreamStatistics{
		StatusCounts: make(map[models.StreamStatus]int64),
		TypeCounts:   make(map[models.StreamType]int64),
		GeneratedAt:  m.now(),
	}

	var cpuSum, memSum, bandwidth float64
	var cpuN, memN, bandwidthN int
	for _, s := range m.streams {
		stats.TotalStreams++
		stats.StatusCounts[s.Status]++
		stats.TypeCounts[s.Type]++

		switch s.Status {
		case models.StreamStatusError:
			stats.ErrorStreams++
		case models.StreamStatusActive:
			stats.ActiveStreams++
			stats.TotalViewers += s.ViewerCount
			if s.CPUUsage != nil {
				cpuSum += *s.CPUUsage
				cpuN++
			}
			if s.MemoryUsage != nil {
				memSum += *s.MemoryUsage
				memN++
			}
			if s.NetworkBandwidth != nil {
				bandwidth += *s.NetworkBandwidth
				bandwidthN++
			}
		}
	}

	if cpuN > 0 {
		avg := cpuSum / float64(cpuN)
		stats.AverageCPUUsage = &avg
	}
	if memN > 0 {
		avg := memSum / float64(memN)
		stats.AverageMemoryUsage = &avg
	}
	if bandwidthN > 0 {
		stats.TotalNetworkBandwidth = &bandwidth
	}
	return stats, nil
}

func filterMatches(f ListFilter, s *models.Stream) bool {
	if len(f.Statuses) > 0 && !statusIn(s.Status, f.Statuses) {
		return false
	}
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	if f.DeviceID != nil && (s.DeviceID == nil || *s.DeviceID != *f.DeviceID) {
		return false
	}
	if f.Keyword != "" {
		kw := strings.ToLower(f.Keyword)
		if !strings.Contains(strings.ToLower(s.Name), kw) && !strings.Contains(strings.ToLower(s.Description), kw) {
			return false
		}
	}
	if f.LastActiveBefore != nil && (s.LastActiveTime == nil || !s.LastActiveTime.Before(*f.LastActiveBefore)) {
		return false
	}
	if f.StatusBefore != nil && !s.StatusChangedAt.Before(*f.StatusBefore) {
		return false
	}
	return true
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
