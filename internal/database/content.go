package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cityfam/cityfam/internal/model"
	"github.com/google/uuid"
)

type eventRow struct {
	ID            string `db:"id"`
	BranchID      string `db:"branch_id"`
	IsGlobal      bool   `db:"is_global"`
	IsActive      bool   `db:"is_active"`
	CreatedBy     string `db:"created_by"`
	Title         string `db:"title"`
	Description   string `db:"description"`
	Location      string `db:"location"`
	ImageURL      string `db:"image_url"`
	EventDate     int64  `db:"event_date"`
	AttendeeCount int    `db:"attendee_count"`
	CreatedAt     int64  `db:"created_at"`
}

const eventColumns = `id, branch_id, is_global, is_active, created_by, title, description, location,
	image_url, event_date, attendee_count, created_at`

func (r eventRow) toModel() model.Event {
	return model.Event{
		Content: model.Content{
			ID:        r.ID,
			BranchID:  r.BranchID,
			IsGlobal:  r.IsGlobal,
			IsActive:  r.IsActive,
			CreatedBy: r.CreatedBy,
			CreatedAt: fromMillis(r.CreatedAt),
		},
		Title:         r.Title,
		Description:   r.Description,
		Location:      r.Location,
		ImageURL:      r.ImageURL,
		Date:          fromMillis(r.EventDate),
		AttendeeCount: r.AttendeeCount,
	}
}

type jobRow struct {
	ID          string `db:"id"`
	BranchID    string `db:"branch_id"`
	IsGlobal    bool   `db:"is_global"`
	IsActive    bool   `db:"is_active"`
	CreatedBy   string `db:"created_by"`
	Title       string `db:"title"`
	JobType     string `db:"job_type"`
	Company     string `db:"company"`
	Location    string `db:"location"`
	Description string `db:"description"`
	Salary      string `db:"salary"`
	ApplyURL    string `db:"apply_url"`
	CreatedAt   int64  `db:"created_at"`
}

const jobColumns = `id, branch_id, is_global, is_active, created_by, title, job_type, company, location,
	description, salary, apply_url, created_at`

func (r jobRow) toModel() model.Job {
	return model.Job{
		Content: model.Content{
			ID:        r.ID,
			BranchID:  r.BranchID,
			IsGlobal:  r.IsGlobal,
			IsActive:  r.IsActive,
			CreatedBy: r.CreatedBy,
			CreatedAt: fromMillis(r.CreatedAt),
		},
		Title:       r.Title,
		Type:        r.JobType,
		Company:     r.Company,
		Location:    r.Location,
		Description: r.Description,
		Salary:      r.Salary,
		ApplyURL:    r.ApplyURL,
	}
}

// --- Event Methods ---

// CreateEvent inserts an event and assigns its ID.
func (q *queries) CreateEvent(ctx context.Context, e *model.Event) error {
	e.Normalize(time.Now())
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := q.exec(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BranchID, e.IsGlobal, e.IsActive, e.CreatedBy, e.Title, e.Description, e.Location,
		e.ImageURL, toMillis(e.Date), e.AttendeeCount, toMillis(e.CreatedAt))
	return err
}

// GetEvent returns an event with its attendee set.
func (q *queries) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var row eventRow
	if err := q.get(ctx, &row, "SELECT "+eventColumns+" FROM events WHERE id = ?", id); err != nil {
		return nil, err
	}
	ev := row.toModel()
	attendees := []string{}
	if err := q.selectRows(ctx, &attendees,
		"SELECT user_id FROM event_attendees WHERE event_id = ? ORDER BY created_at, user_id", id); err != nil {
		return nil, err
	}
	ev.Attendees = attendees
	return &ev, nil
}

// UpdateEvent writes the mutable fields of an event.
func (q *queries) UpdateEvent(ctx context.Context, e *model.Event) error {
	return q.execOne(ctx, `UPDATE events SET title = ?, description = ?, location = ?, image_url = ?,
		event_date = ?, is_global = ? WHERE id = ?`,
		e.Title, e.Description, e.Location, e.ImageURL, toMillis(e.Date), e.IsGlobal, e.ID)
}

// SetEventActive soft-deletes or restores an event.
func (q *queries) SetEventActive(ctx context.Context, id string, active bool) error {
	return q.execOne(ctx, "UPDATE events SET is_active = ? WHERE id = ?", active, id)
}

// ListEvents returns events matching every filter in f.
func (q *queries) ListEvents(ctx context.Context, f model.ContentFilter) ([]model.Event, error) {
	w := &where{}
	contentConditions(w, f, true)
	return q.listEvents(ctx, w, f)
}

// ListVisibleEvents returns events scoped to branchID or globally promoted, in one query.
func (q *queries) ListVisibleEvents(ctx context.Context, branchID string, f model.ContentFilter) ([]model.Event, error) {
	w := &where{}
	w.add("(branch_id = ? OR is_global = ?)", branchID, true)
	f.BranchID, f.GlobalOnly = "", false
	contentConditions(w, f, true)
	return q.listEvents(ctx, w, f)
}

func (q *queries) listEvents(ctx context.Context, w *where, f model.ContentFilter) ([]model.Event, error) {
	order, err := q.eventOrder(f.Order)
	if err != nil {
		return nil, err
	}
	var rows []eventRow
	query := "SELECT " + eventColumns + " FROM events" + w.String() + order + limitClause(f.Limit)
	if err := q.selectRows(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toModel())
	}
	return events, nil
}

func (q *queries) eventOrder(o model.Order) (string, error) {
	switch o {
	case model.OrderCreatedDesc:
		return " ORDER BY created_at DESC, id", nil
	case model.OrderDateDesc:
		return " ORDER BY event_date DESC, id", nil
	case model.OrderDateAttendeesDesc:
		if !q.store.hasIndex(IndexEventsTrending) {
			return "", fmt.Errorf("order by %s: %w", o, ErrIndexRequired)
		}
		return " ORDER BY event_date DESC, attendee_count DESC, id", nil
	default:
		return "", fmt.Errorf("order by %s: %w", o, ErrIndexRequired)
	}
}

// AddAttendee inserts (event, user) into the attendee set. Returns false if already present.
func (q *queries) AddAttendee(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := q.exec(ctx, `INSERT INTO event_attendees (event_id, user_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING`, eventID, userID, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveAttendee deletes the scalar userID from the event's attendee set.
func (q *queries) RemoveAttendee(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := q.exec(ctx, "DELETE FROM event_attendees WHERE event_id = ? AND user_id = ?", eventID, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetAttendeeCount overwrites the denormalized counter.
func (q *queries) SetAttendeeCount(ctx context.Context, eventID string, n int) error {
	return q.execOne(ctx, "UPDATE events SET attendee_count = ? WHERE id = ?", n, eventID)
}

// AdjustAttendeeCount adds delta to the denormalized counter in place, never
// going below zero. The write is relative to the stored value, so concurrent
// adjustments are not lost.
func (q *queries) AdjustAttendeeCount(ctx context.Context, eventID string, delta int) error {
	return q.execOne(ctx, `UPDATE events SET attendee_count =
		CASE WHEN attendee_count + ? < 0 THEN 0 ELSE attendee_count + ? END WHERE id = ?`,
		delta, delta, eventID)
}

// RecountAttendees rewrites drifted counters from the attendee table. Returns rows changed.
func (q *queries) RecountAttendees(ctx context.Context) (int64, error) {
	res, err := q.exec(ctx, `UPDATE events SET attendee_count =
		(SELECT COUNT(*) FROM event_attendees a WHERE a.event_id = events.id)
		WHERE attendee_count <> (SELECT COUNT(*) FROM event_attendees a WHERE a.event_id = events.id)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddCheckIn records a check-in. Returns false if the user already checked in.
func (q *queries) AddCheckIn(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := q.exec(ctx, `INSERT INTO event_checkins (event_id, user_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING`, eventID, userID, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- Job Methods ---

// CreateJob inserts a job and assigns its ID.
func (q *queries) CreateJob(ctx context.Context, j *model.Job) error {
	j.Normalize(time.Now())
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	_, err := q.exec(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.BranchID, j.IsGlobal, j.IsActive, j.CreatedBy, j.Title, j.Type, j.Company, j.Location,
		j.Description, j.Salary, j.ApplyURL, toMillis(j.CreatedAt))
	return err
}

// GetJob returns a job by id.
func (q *queries) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var row jobRow
	if err := q.get(ctx, &row, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id); err != nil {
		return nil, err
	}
	j := row.toModel()
	return &j, nil
}

// SetJobActive soft-deletes or restores a job.
func (q *queries) SetJobActive(ctx context.Context, id string, active bool) error {
	return q.execOne(ctx, "UPDATE jobs SET is_active = ? WHERE id = ?", active, id)
}

// ListJobs returns jobs matching every filter in f.
func (q *queries) ListJobs(ctx context.Context, f model.ContentFilter) ([]model.Job, error) {
	w := &where{}
	contentConditions(w, f, false)
	return q.listJobs(ctx, w, f)
}

// ListVisibleJobs returns jobs scoped to branchID or globally promoted, in one query.
func (q *queries) ListVisibleJobs(ctx context.Context, branchID string, f model.ContentFilter) ([]model.Job, error) {
	w := &where{}
	w.add("(branch_id = ? OR is_global = ?)", branchID, true)
	f.BranchID, f.GlobalOnly = "", false
	contentConditions(w, f, false)
	return q.listJobs(ctx, w, f)
}

func (q *queries) listJobs(ctx context.Context, w *where, f model.ContentFilter) ([]model.Job, error) {
	if f.Order != model.OrderCreatedDesc {
		return nil, fmt.Errorf("order jobs by %s: %w", f.Order, ErrIndexRequired)
	}
	var rows []jobRow
	query := "SELECT " + jobColumns + " FROM jobs" + w.String() + " ORDER BY created_at DESC, id" + limitClause(f.Limit)
	if err := q.selectRows(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]model.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toModel())
	}
	return jobs, nil
}

func contentConditions(w *where, f model.ContentFilter, dated bool) {
	if f.BranchID != "" {
		w.add("branch_id = ?", f.BranchID)
	}
	if f.GlobalOnly {
		w.add("is_global = ?", true)
	}
	if f.ActiveOnly {
		w.add("is_active = ?", true)
	}
	if dated && !f.DateFrom.IsZero() {
		w.add("event_date >= ?", toMillis(f.DateFrom))
	}
}
