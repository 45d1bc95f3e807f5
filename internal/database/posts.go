package database

import (
	"context"
	"time"

	"github.com/cityfam/cityfam/internal/model"
	"github.com/google/uuid"
)

type postRow struct {
	ID         string `db:"id"`
	BranchID   string `db:"branch_id"`
	AuthorID   string `db:"author_id"`
	Title      string `db:"title"`
	Content    string `db:"content"`
	Link       string `db:"link"`
	ImageURL   string `db:"image_url"`
	SourceGUID string `db:"source_guid"`
	IsActive   bool   `db:"is_active"`
	CreatedAt  int64  `db:"created_at"`
}

const postColumns = "id, branch_id, author_id, title, content, link, image_url, source_guid, is_active, created_at"

func (r postRow) toModel() model.Post {
	return model.Post{
		ID:         r.ID,
		BranchID:   r.BranchID,
		AuthorID:   r.AuthorID,
		Title:      r.Title,
		Content:    r.Content,
		Link:       r.Link,
		ImageURL:   r.ImageURL,
		SourceGUID: r.SourceGUID,
		IsActive:   r.IsActive,
		CreatedAt:  fromMillis(r.CreatedAt),
	}
}

// --- Post Methods ---

// CreatePost inserts a user-authored post.
func (q *queries) CreatePost(ctx context.Context, p *model.Post) error {
	_, err := q.insertPost(ctx, p, "")
	return err
}

// AddImportedPost inserts a feed item if its GUID doesn't exist for that branch.
// Returns whether it was new.
func (q *queries) AddImportedPost(ctx context.Context, p *model.Post) (bool, error) {
	return q.insertPost(ctx, p, " ON CONFLICT DO NOTHING")
}

func (q *queries) insertPost(ctx context.Context, p *model.Post, conflict string) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	res, err := q.exec(ctx, `INSERT INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+conflict,
		p.ID, p.BranchID, p.AuthorID, p.Title, p.Content, p.Link, p.ImageURL, p.SourceGUID, p.IsActive, toMillis(p.CreatedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetPost returns a post by id.
func (q *queries) GetPost(ctx context.Context, id string) (*model.Post, error) {
	var row postRow
	if err := q.get(ctx, &row, "SELECT "+postColumns+" FROM posts WHERE id = ?", id); err != nil {
		return nil, err
	}
	p := row.toModel()
	return &p, nil
}

// SetPostActive soft-deletes or restores a post.
func (q *queries) SetPostActive(ctx context.Context, id string, active bool) error {
	return q.execOne(ctx, "UPDATE posts SET is_active = ? WHERE id = ?", active, id)
}

// ListPosts returns active posts of a branch, newest first.
func (q *queries) ListPosts(ctx context.Context, branchID string, limit int) ([]model.Post, error) {
	var rows []postRow
	if err := q.selectRows(ctx, &rows, "SELECT "+postColumns+
		" FROM posts WHERE branch_id = ? AND is_active = ? ORDER BY created_at DESC, id"+limitClause(limit),
		branchID, true); err != nil {
		return nil, err
	}
	posts := make([]model.Post, 0, len(rows))
	for _, r := range rows {
		posts = append(posts, r.toModel())
	}
	return posts, nil
}
