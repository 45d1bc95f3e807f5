package database

import (
	"context"
	"time"

	"github.com/cityfam/cityfam/internal/model"
	"github.com/google/uuid"
)

type branchFeedRow struct {
	ID          string `db:"id"`
	BranchID    string `db:"branch_id"`
	Title       string `db:"title"`
	URL         string `db:"url"`
	LastFetched int64  `db:"last_fetched"`
	LastError   string `db:"last_error"`
}

// --- Analytics Methods ---

// AddAnalyticsEvent appends a usage event.
func (q *queries) AddAnalyticsEvent(ctx context.Context, e *model.AnalyticsEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := q.exec(ctx, `INSERT INTO analytics (id, event_type, branch_id, user_id, target_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, e.ID, e.Type, e.BranchID, e.UserID, e.TargetID, toMillis(e.CreatedAt))
	return err
}

// --- Branch Feed Methods ---

// GetOrCreateBranchFeed finds a feed by (branch, URL), or creates it.
func (q *queries) GetOrCreateBranchFeed(ctx context.Context, branchID, title, url string) (string, bool, error) {
	var id string
	err := q.get(ctx, &id, "SELECT id FROM branch_feeds WHERE branch_id = ? AND url = ?", branchID, url)
	if err == ErrNotFound {
		id = uuid.NewString()
		if title == "" {
			title = url
		}
		_, err = q.exec(ctx, "INSERT INTO branch_feeds (id, branch_id, title, url) VALUES (?, ?, ?, ?)", id, branchID, title, url)
		return id, err == nil, err
	}
	return id, false, err
}

// ListBranchFeeds returns the feeds of one branch, or of all branches when branchID is empty.
func (q *queries) ListBranchFeeds(ctx context.Context, branchID string) ([]model.BranchFeed, error) {
	w := &where{}
	if branchID != "" {
		w.add("branch_id = ?", branchID)
	}
	var rows []branchFeedRow
	if err := q.selectRows(ctx, &rows, "SELECT id, branch_id, title, url, last_fetched, last_error FROM branch_feeds"+
		w.String()+" ORDER BY branch_id, title", w.args...); err != nil {
		return nil, err
	}
	feeds := make([]model.BranchFeed, 0, len(rows))
	for _, r := range rows {
		feeds = append(feeds, model.BranchFeed{
			ID:          r.ID,
			BranchID:    r.BranchID,
			Title:       r.Title,
			URL:         r.URL,
			LastFetched: fromMillis(r.LastFetched),
			LastError:   r.LastError,
		})
	}
	return feeds, nil
}

// UpdateFeedLastFetched records a successful fetch and clears any previous error.
func (q *queries) UpdateFeedLastFetched(ctx context.Context, feedID string, t time.Time) error {
	_, err := q.exec(ctx, "UPDATE branch_feeds SET last_fetched = ?, last_error = '' WHERE id = ?", toMillis(t), feedID)
	return err
}

// UpdateFeedTitle renames a feed.
func (q *queries) UpdateFeedTitle(ctx context.Context, feedID, title string) error {
	_, err := q.exec(ctx, "UPDATE branch_feeds SET title = ? WHERE id = ?", title, feedID)
	return err
}

// UpdateFeedError records the last fetch failure for display.
func (q *queries) UpdateFeedError(ctx context.Context, feedID, errMsg string) error {
	_, err := q.exec(ctx, "UPDATE branch_feeds SET last_error = ? WHERE id = ?", errMsg, feedID)
	return err
}

// DeleteBranchFeed removes a feed subscription. Imported posts stay.
func (q *queries) DeleteBranchFeed(ctx context.Context, feedID string) error {
	return q.execOne(ctx, "DELETE FROM branch_feeds WHERE id = ?", feedID)
}
