package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

func init() {
	// modernc.org/sqlite registers as "sqlite", which sqlx does not know by name.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// schema is valid for both SQLite and PostgreSQL. Timestamps are Unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS branches (
	id TEXT PRIMARY KEY,
	city TEXT NOT NULL,
	state TEXT NOT NULL,
	member_count INTEGER NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_branches_state ON branches(state, city);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	home_branch_id TEXT NOT NULL DEFAULT '',
	selected_branch_id TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'member',
	subscription_status TEXT NOT NULL DEFAULT '',
	stripe_subscription_id TEXT NOT NULL DEFAULT '',
	stripe_customer_id TEXT NOT NULL DEFAULT '',
	subscription_business_id TEXT NOT NULL DEFAULT '',
	subscription_updated_at BIGINT NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_home_branch ON users(home_branch_id);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL,
	is_global BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_by TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	event_date BIGINT NOT NULL,
	attendee_count INTEGER NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_branch ON events(branch_id, is_active, created_at);
CREATE INDEX IF NOT EXISTS idx_events_global ON events(is_global, is_active, created_at);
CREATE INDEX IF NOT EXISTS ` + IndexEventsTrending + ` ON events(event_date DESC, attendee_count DESC);

CREATE TABLE IF NOT EXISTS event_attendees (
	event_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	PRIMARY KEY (event_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_event_attendees_user ON event_attendees(user_id);

CREATE TABLE IF NOT EXISTS event_checkins (
	event_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	PRIMARY KEY (event_id, user_id)
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL,
	is_global BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_by TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	job_type TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	salary TEXT NOT NULL DEFAULT '',
	apply_url TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_branch ON jobs(branch_id, is_active, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_global ON jobs(is_global, is_active, created_at);

CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL,
	author_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	source_guid TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_branch ON posts(branch_id, is_active, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_source ON posts(branch_id, source_guid) WHERE source_guid <> '';

CREATE TABLE IF NOT EXISTS businesses (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	branch_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	website TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	logo_url TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_promoted BOOLEAN NOT NULL DEFAULT FALSE,
	stripe_subscription_id TEXT NOT NULL DEFAULT '',
	stripe_customer_id TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_businesses_active ON businesses(is_active, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_businesses_subscription
	ON businesses(owner_id, stripe_subscription_id) WHERE stripe_subscription_id <> '';

CREATE TABLE IF NOT EXISTS supporting_companies (
	id TEXT PRIMARY KEY,
	business_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	logo_url TEXT NOT NULL DEFAULT '',
	website TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	stripe_subscription_id TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_supporting_companies_subscription
	ON supporting_companies(owner_id, stripe_subscription_id) WHERE stripe_subscription_id <> '';

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	pair_key TEXT NOT NULL UNIQUE,
	last_message TEXT NOT NULL DEFAULT '',
	updated_at BIGINT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (conversation_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_conversation_participants_user ON conversation_participants(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS analytics (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	branch_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	target_id TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analytics_branch ON analytics(branch_id, event_type);

CREATE TABLE IF NOT EXISTS branch_feeds (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	last_fetched BIGINT NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	UNIQUE (branch_id, url)
);
`

// IndexEventsTrending backs the (date, attendee count) ordering.
const IndexEventsTrending = "idx_events_date_attendees"

// SQLStore is the shared SQL implementation behind the SQLite and PostgreSQL backends.
type SQLStore struct {
	*queries

	db              *sqlx.DB
	dbType          string
	highConcurrency bool
	indexQuery      string

	mu      sync.RWMutex
	indexes map[string]bool
}

// Ensure SQLStore implements Store interface.
var _ Store = (*SQLStore)(nil)

func newSQLStore(db *sqlx.DB, dbType string, highConcurrency bool, indexQuery string) *SQLStore {
	s := &SQLStore{
		db:              db,
		dbType:          dbType,
		highConcurrency: highConcurrency,
		indexQuery:      indexQuery,
		indexes:         make(map[string]bool),
	}
	s.queries = &queries{ext: db, store: s}
	return s
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DatabaseType returns the database backend name.
func (s *SQLStore) DatabaseType() string {
	return s.dbType
}

// SupportsHighConcurrency reports whether parallel writers are safe.
func (s *SQLStore) SupportsHighConcurrency() bool {
	return s.highConcurrency
}

// DB exposes the underlying handle for maintenance commands.
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Migrate creates missing tables and indexes, then reloads the index catalog.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return s.RefreshIndexes(ctx)
}

// RefreshIndexes reloads the set of indexes the database currently has.
func (s *SQLStore) RefreshIndexes(ctx context.Context) error {
	var names []string
	if err := s.db.SelectContext(ctx, &names, s.indexQuery); err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	idx := make(map[string]bool, len(names))
	for _, n := range names {
		idx[n] = true
	}
	s.mu.Lock()
	s.indexes = idx
	s.mu.Unlock()
	return nil
}

func (s *SQLStore) hasIndex(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[name]
}

// RunInTx runs fn inside a single transaction.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&queries{ext: tx, store: s}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// queries implements Queries over either the pool or an open transaction.
type queries struct {
	ext   sqlx.ExtContext
	store *SQLStore
}

func (q *queries) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q *queries) selectRows(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
}

// execOne runs an update that must touch exactly one row.
func (q *queries) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helper functions ---

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func splitStatements(s string) []string {
	var out []string
	for _, stmt := range strings.Split(s, ";") {
		if strings.TrimSpace(stmt) != "" {
			out = append(out, strings.TrimSpace(stmt))
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// isUniqueViolation matches unique-constraint errors from both drivers without
// importing driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// where accumulates AND-joined conditions with positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}
