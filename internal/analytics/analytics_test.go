package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cityfam/cityfam/internal/logging"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu     sync.Mutex
	events []model.AnalyticsEvent
	err    error
	stats  func(branchID string) (*model.BranchStats, error)
}

func (m *mockStore) AddAnalyticsEvent(_ context.Context, e *model.AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *mockStore) GetBranchStats(_ context.Context, branchID string) (*model.BranchStats, error) {
	return m.stats(branchID)
}

func TestRecordFlushesOnClose(t *testing.T) {
	store := &mockStore{}
	r := NewRecorder(store, logging.Discard())

	r.Record(model.AnalyticsEvent{Type: EventView, BranchID: "b1", TargetID: "e1"})
	r.Record(model.AnalyticsEvent{Type: EventAttend, BranchID: "b1", UserID: "u1"})
	r.Close()

	require.Len(t, store.events, 2)
	assert.Equal(t, EventView, store.events[0].Type)
	assert.False(t, store.events[0].CreatedAt.IsZero())

	// closed recorder drops silently
	r.Record(model.AnalyticsEvent{Type: EventView})
	r.Close()
}

func TestRecordFailuresAreSwallowed(t *testing.T) {
	store := &mockStore{err: errors.New("disk full")}
	r := NewRecorder(store, logging.Discard())
	r.Record(model.AnalyticsEvent{Type: EventSearch})
	r.Close()
	assert.Empty(t, store.events)
}

func TestBranchStats(t *testing.T) {
	store := &mockStore{stats: func(branchID string) (*model.BranchStats, error) {
		return &model.BranchStats{BranchID: branchID, Events: 3, MemberCount: 10}, nil
	}}
	r := NewRecorder(store, logging.Discard())
	defer r.Close()

	stats, err := r.BranchStats(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Events)
	assert.Equal(t, 10, stats.MemberCount)
}
