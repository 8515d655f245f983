package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"private-chat/backend/internal/models"
	"private-chat/backend/internal/store"
	"private-chat/backend/pkg/logger"
	"private-chat/backend/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPipeline(s store.Store, now *time.Time, opts ...Option) *Pipeline {
	opts = append(opts, WithClock(func() time.Time { return *now }))
	return NewPipeline(s, DefaultPolicy(), logger.Discard(), opts...)
}

func message(id string, at time.Time) *models.Message {
	return &models.Message{ID: id, AuthorID: "u1", AuthorName: "Ann", Body: "hi " + id, CreatedAt: at}
}

// flakyStore wraps a MemoryStore and fails selected operations.
type flakyStore struct {
	*store.MemoryStore
	failInsert error
	failRead   error
	failDelete error
}

func (f *flakyStore) Insert(ctx context.Context, msg *models.Message) error {
	if f.failInsert != nil {
		return f.failInsert
	}
	return f.MemoryStore.Insert(ctx, msg)
}

func (f *flakyStore) OrderedRead(ctx context.Context, limit int, order store.Order) ([]models.Message, error) {
	if f.failRead != nil {
		return nil, f.failRead
	}
	return f.MemoryStore.OrderedRead(ctx, limit, order)
}

func (f *flakyStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if f.failDelete != nil {
		return f.failDelete
	}
	return f.MemoryStore.DeleteByIDs(ctx, ids)
}

func TestSubmitKeepsFiftyMostRecent(t *testing.T) {
	s := store.NewMemoryStore()
	now := epoch.Add(time.Hour)
	p := newTestPipeline(s, &now)

	for i := 0; i < 60; i++ {
		require.NoError(t, p.Submit(context.Background(), message(fmt.Sprintf("m%02d", i), epoch.Add(time.Duration(i)*time.Second))))
	}

	left, err := s.OrderedRead(context.Background(), 0, store.Ascending)
	require.NoError(t, err)
	require.Len(t, left, 50)
	assert.Equal(t, "m10", left[0].ID)
	assert.Equal(t, "m59", left[49].ID)
}

func TestTrimUsesTimestampNotInsertionOrder(t *testing.T) {
	s := store.NewMemoryStore()
	now := epoch.Add(time.Hour)
	p := newTestPipeline(s, &now)

	// inserted newest first
	for i := 59; i >= 0; i-- {
		require.NoError(t, s.Insert(context.Background(), message(fmt.Sprintf("m%02d", i), epoch.Add(time.Duration(i)*time.Second))))
	}
	n, err := p.Trim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	left, err := s.OrderedRead(context.Background(), 0, store.Ascending)
	require.NoError(t, err)
	require.Len(t, left, 50)
	assert.Equal(t, "m10", left[0].ID)
}

func TestTrimExpiresOldMessages(t *testing.T) {
	s := store.NewMemoryStore()
	now := epoch
	p := newTestPipeline(s, &now)

	require.NoError(t, s.Insert(context.Background(), message("old", epoch.Add(-73*time.Hour))))
	require.NoError(t, s.Insert(context.Background(), message("fresh", epoch.Add(-time.Hour))))

	n, err := p.Trim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := s.OrderedRead(context.Background(), 0, store.Ascending)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "fresh", left[0].ID)
}

func TestSubmitValidation(t *testing.T) {
	now := epoch
	p := newTestPipeline(store.NewMemoryStore(), &now)

	tests := []struct {
		name string
		msg  *models.Message
	}{
		{"nil", nil},
		{"no author", &models.Message{ID: "a", Body: "x"}},
		{"blank body", &models.Message{ID: "a", AuthorID: "u1", Body: "   "}},
		{"too long", &models.Message{ID: "a", AuthorID: "u1", Body: strings.Repeat("x", 4001)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, p.Submit(context.Background(), tt.msg), ErrInvalidMessage)
		})
	}
}

func TestSubmitAssignsIDAndTimestamp(t *testing.T) {
	s := store.NewMemoryStore()
	now := epoch
	p := newTestPipeline(s, &now)

	msg := &models.Message{AuthorID: "u1", Body: "  hello  "}
	require.NoError(t, p.Submit(context.Background(), msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hello", msg.Body)
	assert.True(t, msg.CreatedAt.Equal(epoch))
}

func TestSubmitDuplicate(t *testing.T) {
	now := epoch
	p := newTestPipeline(store.NewMemoryStore(), &now)

	require.NoError(t, p.Submit(context.Background(), message("m1", epoch)))
	assert.ErrorIs(t, p.Submit(context.Background(), message("m1", epoch)), store.ErrDuplicateMessage)
}

func TestSubmitSurfacesInsertFailure(t *testing.T) {
	boom := errors.New("connection refused")
	now := epoch
	p := newTestPipeline(&flakyStore{MemoryStore: store.NewMemoryStore(), failInsert: boom}, &now)

	assert.ErrorIs(t, p.Submit(context.Background(), message("m1", epoch)), boom)
}

func TestSubmitSwallowsTrimFailure(t *testing.T) {
	s := &flakyStore{MemoryStore: store.NewMemoryStore(), failDelete: errors.New("delete failed")}
	now := epoch
	p := newTestPipeline(s, &now)

	for i := 0; i < 55; i++ {
		require.NoError(t, p.Submit(context.Background(), message(fmt.Sprintf("m%02d", i), epoch.Add(time.Duration(i)*time.Second))))
	}
	all, err := s.MemoryStore.OrderedRead(context.Background(), 0, store.Ascending)
	require.NoError(t, err)
	assert.Len(t, all, 55)

	// next successful trim converges
	s.failDelete = nil
	n, err := p.Trim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestSubmitWithOpenBreaker(t *testing.T) {
	s := &flakyStore{MemoryStore: store.NewMemoryStore(), failInsert: errors.New("down")}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "store", FailureThreshold: 1, SuccessThreshold: 1, RetryTimeout: time.Hour,
	}, logger.Discard())
	now := epoch
	p := newTestPipeline(s, &now, WithBreaker(cb))

	assert.Error(t, p.Submit(context.Background(), message("m1", epoch)))
	assert.ErrorIs(t, p.Submit(context.Background(), message("m2", epoch)), ErrStoreUnavailable)
}

func TestDuplicateDoesNotTripBreaker(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "store", FailureThreshold: 1, SuccessThreshold: 1, RetryTimeout: time.Hour,
	}, logger.Discard())
	now := epoch
	p := newTestPipeline(store.NewMemoryStore(), &now, WithBreaker(cb))

	require.NoError(t, p.Submit(context.Background(), message("m1", epoch)))
	assert.ErrorIs(t, p.Submit(context.Background(), message("m1", epoch)), store.ErrDuplicateMessage)
	assert.Equal(t, resilience.StateClosed, cb.GetState())
}

func TestHistoryReturnsRecentAscending(t *testing.T) {
	s := store.NewMemoryStore()
	now := epoch.Add(time.Hour)
	policy := DefaultPolicy()
	policy.MaxMessages = 0
	p := NewPipeline(s, policy, logger.Discard(), WithClock(func() time.Time { return now }))

	for i := 0; i < 120; i++ {
		require.NoError(t, s.Insert(context.Background(), message(fmt.Sprintf("m%03d", i), epoch.Add(time.Duration(i)*time.Second))))
	}

	history, err := p.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 100)
	assert.Equal(t, "m020", history[0].ID)
	assert.Equal(t, "m119", history[99].ID)
}

func TestHistoryHidesExpired(t *testing.T) {
	s := store.NewMemoryStore()
	now := epoch
	p := newTestPipeline(s, &now)

	require.NoError(t, s.Insert(context.Background(), message("old", epoch.Add(-80*time.Hour))))
	require.NoError(t, s.Insert(context.Background(), message("new", epoch)))

	history, err := p.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "new", history[0].ID)
}

func TestRunSweeperTrimsUntilCancelled(t *testing.T) {
	s := store.NewMemoryStore()
	now := epoch
	p := newTestPipeline(s, &now)
	require.NoError(t, s.Insert(context.Background(), message("old", epoch.Add(-100*time.Hour))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		left, _ := s.OrderedRead(context.Background(), 0, store.Ascending)
		return len(left) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
