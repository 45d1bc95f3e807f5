// Package analytics records usage events and reports branch statistics.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/cityfam/cityfam/internal/model"
	"github.com/sirupsen/logrus"
)

// Event types recorded by the API.
const (
	EventView       = "view"
	EventAttend     = "attend"
	EventCheckIn    = "checkin"
	EventSearch     = "search"
	EventSubscribed = "subscribed"
)

const (
	queueSize    = 256
	writeTimeout = 5 * time.Second
)

// Store is the persistence the recorder needs.
type Store interface {
	AddAnalyticsEvent(ctx context.Context, e *model.AnalyticsEvent) error
	GetBranchStats(ctx context.Context, branchID string) (*model.BranchStats, error)
}

// Recorder writes analytics events in the background. Recording never blocks
// the caller; events are dropped when the queue is full.
type Recorder struct {
	store Store
	log   logrus.FieldLogger
	queue chan model.AnalyticsEvent
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts the background writer.
func NewRecorder(store Store, log logrus.FieldLogger) *Recorder {
	r := &Recorder{
		store: store,
		log:   log,
		queue: make(chan model.AnalyticsEvent, queueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.AddAnalyticsEvent(ctx, &e); err != nil {
			r.log.WithError(err).WithField("type", e.Type).Warn("analytics write failed")
		}
		cancel()
	}
}

// Record queues e for writing.
func (r *Recorder) Record(e model.AnalyticsEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.log.WithField("type", e.Type).Warn("analytics queue full, event dropped")
	}
}

// BranchStats returns active content counts for a branch.
func (r *Recorder) BranchStats(ctx context.Context, branchID string) (*model.BranchStats, error) {
	return r.store.GetBranchStats(ctx, branchID)
}

// Close flushes queued events and stops the writer.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
