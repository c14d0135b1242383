package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

// fakeActuator is a scripted media engine that counts its calls
type fakeActuator struct {
	mu            sync.Mutex
	activations   int
	deactivations int
	startErr      error
	stopErr       error
	delay         time.Duration
	hang          chan struct{} // when set, Activate ignores ctx and waits on it
	onActivate    func(s *models.Stream)
}

func (f *fakeActuator) Activate(ctx context.Context, s *models.Stream) error {
	f.mu.Lock()
	f.activations++
	err, delay, hang, hook := f.startErr, f.delay, f.hang, f.onActivate
	f.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	if hang != nil {
		<-hang
		return nil
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeActuator) Deactivate(ctx context.Context, s *models.Stream) error {
	f.mu.Lock()
	f.deactivations++
	err := f.stopErr
	f.mu.Unlock()
	return err
}

func (f *fakeActuator) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeActuator) setStopErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopErr = err
}

func (f *fakeActuator) calls() (activations, deactivations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activations, f.deactivations
}

// recordingPublisher keeps every published event type in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.StreamEvent
}

func (p *recordingPublisher) PublishStreamEvent(ctx context.Context, e *models.StreamEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type mockDevices struct {
	mock.Mock
}

func (m *mockDevices) Resolve(ctx context.Context, deviceID int64) (*models.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Device), args.Error(1)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) ArchiveStream(ctx context.Context, s *models.Stream) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

type memoryStatsCache struct {
	mu    sync.Mutex
	stats *models.StreamStatistics
	sets  int
}

func (c *memoryStatsCache) GetStatistics(ctx context.Context) (*models.StreamStatistics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, nil
}

func (c *memoryStatsCache) SetStatistics(ctx context.Context, stats *models.StreamStatistics, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = stats
	c.sets++
	return nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	svc      *Service
	store    *MemoryStore
	actuator *fakeActuator
	events   *recordingPublisher
	clock    *testClock
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    NewMemoryStore(),
		actuator: &fakeActuator{},
		events:   &recordingPublisher{},
		clock:    newTestClock(),
	}
	if opts.Publisher == nil {
		opts.Publisher = env.events
	}
	env.svc = NewService(env.store, env.actuator, opts)
	env.svc.now = env.clock.Now
	env.store.now = env.clock.Now
	return env
}

func descriptor(streamID string) *models.StreamDescriptor {
	return &models.StreamDescriptor{
		StreamID:  streamID,
		Name:      "Camera " + streamID,
		Type:      models.StreamTypeRTSP,
		SourceURL: "rtsp://10.0.0.5/" + streamID,
		Protocol:  models.StreamProtocolTCP,
		Quality:   models.StreamQualityHigh,
	}
}

func (e *testEnv) create(t *testing.T, streamID string) *models.Stream {
	t.Helper()
	st, err := e.svc.Create(context.Background(), descriptor(streamID))
	require.NoError(t, err)
	return st
}

func (e *testEnv) createActive(t *testing.T, streamID string) *models.Stream {
	t.Helper()
	st := e.create(t, streamID)
	st, err := e.svc.Start(context.Background(), st.ID)
	require.NoError(t, err)
	require.Equal(t, models.StreamStatusActive, st.Status)
	return st
}

func (e *testEnv) get(t *testing.T, id int64) *models.Stream {
	t.Helper()
	st, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return st
}
