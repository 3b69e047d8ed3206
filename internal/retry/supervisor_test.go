package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/ingest"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/notify"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) ListUnprocessed(ctx context.Context, olderThan time.Time, maxRetries, limit int) ([]domain.VerificationEvent, error) {
	args := m.Called(ctx, olderThan, maxRetries, limit)
	evs, _ := args.Get(0).([]domain.VerificationEvent)
	return evs, args.Error(1)
}

func (m *mockLedger) MarkExhausted(ctx context.Context, maxRetries int) ([]domain.VerificationEvent, error) {
	args := m.Called(ctx, maxRetries)
	evs, _ := args.Get(0).([]domain.VerificationEvent)
	return evs, args.Error(1)
}

type stubRedriver struct {
	mu       sync.Mutex
	results  map[string]ingest.Disposition
	seen     []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (r *stubRedriver) Redrive(_ context.Context, ev domain.VerificationEvent, source string) (ingest.Disposition, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(r.delay)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, ev.EventID+"@"+source)
	if d, ok := r.results[ev.EventID]; ok {
		return d, nil
	}
	return ingest.DispositionProcessed, nil
}

type capture struct {
	mu     sync.Mutex
	topics []string
}

func (c *capture) Publish(_ context.Context, topic string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return nil
}

func (c *capture) Close() error { return nil }

func events(ids ...string) []domain.VerificationEvent {
	out := make([]domain.VerificationEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.VerificationEvent{ID: uuid.New(), Vendor: "veriff", EventID: id, SubjectRef: "S-" + id})
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweep_CountsDispositions(t *testing.T) {
	ledger := new(mockLedger)
	ledger.On("MarkExhausted", mock.Anything, 5).Return([]domain.VerificationEvent(nil), nil)
	ledger.On("ListUnprocessed", mock.Anything, mock.AnythingOfType("time.Time"), 5, 50).
		Return(events("a", "b", "c", "d"), nil)

	redriver := &stubRedriver{results: map[string]ingest.Disposition{
		"b": ingest.DispositionRetrying,
		"c": ingest.DispositionFailed,
	}}

	s := NewSupervisor(Config{BatchSize: 50, MaxRetries: 5, PendingGrace: time.Minute}, ledger, redriver, quietLogger())

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Retried: 4, Succeeded: 2, PermanentlyFailed: 1}, res)
	assert.ElementsMatch(t, []string{"a@retry", "b@retry", "c@retry", "d@retry"}, redriver.seen)
	ledger.AssertExpectations(t)
}

func TestSweep_PendingGraceWindow(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ledger := new(mockLedger)
	ledger.On("MarkExhausted", mock.Anything, 8).Return([]domain.VerificationEvent(nil), nil)
	ledger.On("ListUnprocessed", mock.Anything, fixed.Add(-2*time.Minute), 8, 100).
		Return([]domain.VerificationEvent{}, nil)

	s := NewSupervisor(Config{PendingGrace: 2 * time.Minute}, ledger, &stubRedriver{}, quietLogger())
	s.now = func() time.Time { return fixed }

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
	ledger.AssertExpectations(t)
}

func TestSweep_ExhaustedEventsRaiseAlert(t *testing.T) {
	lastErr := "store unavailable"
	exhausted := events("x", "y")
	exhausted[0].Error = &lastErr
	exhausted[0].RetryCount = 8

	ledger := new(mockLedger)
	ledger.On("MarkExhausted", mock.Anything, 8).Return(exhausted, nil)
	ledger.On("ListUnprocessed", mock.Anything, mock.Anything, 8, 100).Return([]domain.VerificationEvent{}, nil)

	pub := &capture{}
	s := NewSupervisor(Config{}, ledger, &stubRedriver{}, quietLogger()).WithPublisher(pub)

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.PermanentlyFailed)
	assert.Equal(t, []string{notify.TopicEventFailed, notify.TopicEventFailed}, pub.topics)
}

func TestSweep_ListError(t *testing.T) {
	ledger := new(mockLedger)
	ledger.On("MarkExhausted", mock.Anything, 8).Return([]domain.VerificationEvent(nil), nil)
	ledger.On("ListUnprocessed", mock.Anything, mock.Anything, 8, 100).Return(nil, errors.New("db down"))

	s := NewSupervisor(Config{}, ledger, &stubRedriver{}, quietLogger())

	_, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list unprocessed")
}

func TestSweep_MarkExhaustedError(t *testing.T) {
	ledger := new(mockLedger)
	ledger.On("MarkExhausted", mock.Anything, 8).Return(nil, errors.New("db down"))

	s := NewSupervisor(Config{}, ledger, &stubRedriver{}, quietLogger())

	_, err := s.Sweep(context.Background())
	require.Error(t, err)
	ledger.AssertNotCalled(t, "ListUnprocessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSweep_BoundedConcurrency(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	ledger := new(mockLedger)
	ledger.On("MarkExhausted", mock.Anything, 8).Return([]domain.VerificationEvent(nil), nil)
	ledger.On("ListUnprocessed", mock.Anything, mock.Anything, 8, 100).Return(events(ids...), nil)

	redriver := &stubRedriver{delay: 5 * time.Millisecond}
	s := NewSupervisor(Config{Concurrency: 3}, ledger, redriver, quietLogger())

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, res.Retried)
	assert.LessOrEqual(t, redriver.peak.Load(), int32(3))
}

func TestSupervisor_RunAndStop(t *testing.T) {
	ledger := new(mockLedger)
	ledger.On("MarkExhausted", mock.Anything, 8).Return([]domain.VerificationEvent(nil), nil)
	var listed atomic.Bool
	ledger.On("ListUnprocessed", mock.Anything, mock.Anything, 8, 100).
		Return([]domain.VerificationEvent{}, nil).
		Run(func(mock.Arguments) { listed.Store(true) })

	s := NewSupervisor(Config{Interval: 5 * time.Millisecond}, ledger, &stubRedriver{}, quietLogger())

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	assert.Eventually(t, listed.Load, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Initial: 2 * time.Second, Max: 10 * time.Second}

	assert.Equal(t, 2*time.Second, b.Next(0))
	assert.Equal(t, 2*time.Second, b.Next(1))
	assert.Equal(t, 4*time.Second, b.Next(2))
	assert.Equal(t, 8*time.Second, b.Next(3))
	assert.Equal(t, 10*time.Second, b.Next(4))
	assert.Equal(t, 10*time.Second, b.Next(60))

	assert.Equal(t, time.Second, ExponentialBackoff{}.Next(1))
}

func TestExponentialBackoff_SatisfiesIngest(t *testing.T) {
	var _ ingest.Backoff = ExponentialBackoff{}
}
