package community

import (
	"context"
	"strings"
	"time"

	"github.com/cityfam/cityfam/internal/model"
	"github.com/cityfam/cityfam/internal/validate"
)

// EventForm is a new event.
type EventForm struct {
	BranchID    string    `json:"branchId" validate:"required"`
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	Location    string    `json:"location" validate:"max=200"`
	ImageURL    string    `json:"imageUrl" validate:"omitempty,url"`
	Date        time.Time `json:"date" validate:"required"`
	IsGlobal    bool      `json:"isGlobal"`
}

// EventPatch carries the event fields to change; nil fields are left alone.
type EventPatch struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	Location    *string    `json:"location" validate:"omitempty,max=200"`
	ImageURL    *string    `json:"imageUrl" validate:"omitempty,url"`
	Date        *time.Time `json:"date"`
	IsGlobal    *bool      `json:"isGlobal"`
}

// JobForm is a new job listing.
type JobForm struct {
	BranchID    string `json:"branchId" validate:"required"`
	Title       string `json:"title" validate:"required,max=200"`
	Type        string `json:"type" validate:"required,max=40"`
	Company     string `json:"company" validate:"required,max=120"`
	Location    string `json:"location" validate:"max=200"`
	Description string `json:"description" validate:"max=5000"`
	Salary      string `json:"salary" validate:"max=80"`
	ApplyURL    string `json:"applyUrl" validate:"omitempty,url"`
	IsGlobal    bool   `json:"isGlobal"`
}

// PostForm is a new member post.
type PostForm struct {
	BranchID string `json:"branchId" validate:"required"`
	Title    string `json:"title" validate:"max=200"`
	Content  string `json:"content" validate:"required,max=5000"`
	Link     string `json:"link" validate:"omitempty,url"`
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
}

// CreateEvent publishes an event in a branch. Only admins may promote it globally.
func (s *Service) CreateEvent(ctx context.Context, actor *model.User, form EventForm) (*model.Event, error) {
	if err := validate.Struct(form); err != nil {
		return nil, err
	}
	if form.IsGlobal && !s.IsAdmin(actor) {
		return nil, ErrForbidden
	}
	if err := branchExists(ctx, s.store, form.BranchID); err != nil {
		return nil, err
	}
	e := &model.Event{
		Content: newContent(form.BranchID, form.IsGlobal, actor, s.now()),
		Title:       strings.TrimSpace(form.Title),
		Description: form.Description,
		Location:    form.Location,
		ImageURL:    form.ImageURL,
		Date:        form.Date,
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Event returns an event with its attendees.
func (s *Service) Event(ctx context.Context, id string) (*model.Event, error) {
	return s.store.GetEvent(ctx, id)
}

// UpdateEvent applies patch to an event owned by actor.
func (s *Service) UpdateEvent(ctx context.Context, actor *model.User, id string, patch EventPatch) (*model.Event, error) {
	if err := validate.Struct(patch); err != nil {
		return nil, err
	}
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canModify(actor, e.CreatedBy) {
		return nil, ErrForbidden
	}
	if patch.IsGlobal != nil && *patch.IsGlobal != e.IsGlobal && !s.IsAdmin(actor) {
		return nil, ErrForbidden
	}

	if patch.Title != nil {
		e.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		e.Description = *patch.Description
	}
	if patch.Location != nil {
		e.Location = *patch.Location
	}
	if patch.ImageURL != nil {
		e.ImageURL = *patch.ImageURL
	}
	if patch.Date != nil {
		e.Date = *patch.Date
	}
	if patch.IsGlobal != nil {
		e.IsGlobal = *patch.IsGlobal
	}
	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteEvent hides an event. Owners and admins only.
func (s *Service) DeleteEvent(ctx context.Context, actor *model.User, id string) error {
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if !s.canModify(actor, e.CreatedBy) {
		return ErrForbidden
	}
	return s.store.SetEventActive(ctx, id, false)
}

// CreateJob publishes a job listing. Only admins may promote it globally.
func (s *Service) CreateJob(ctx context.Context, actor *model.User, form JobForm) (*model.Job, error) {
	if err := validate.Struct(form); err != nil {
		return nil, err
	}
	if form.IsGlobal && !s.IsAdmin(actor) {
		return nil, ErrForbidden
	}
	if err := branchExists(ctx, s.store, form.BranchID); err != nil {
		return nil, err
	}
	j := &model.Job{
		Content: newContent(form.BranchID, form.IsGlobal, actor, s.now()),
		Title:       strings.TrimSpace(form.Title),
		Type:        form.Type,
		Company:     form.Company,
		Location:    form.Location,
		Description: form.Description,
		Salary:      form.Salary,
		ApplyURL:    form.ApplyURL,
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Job returns a job listing.
func (s *Service) Job(ctx context.Context, id string) (*model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// DeleteJob hides a job listing. Owners and admins only.
func (s *Service) DeleteJob(ctx context.Context, actor *model.User, id string) error {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !s.canModify(actor, j.CreatedBy) {
		return ErrForbidden
	}
	return s.store.SetJobActive(ctx, id, false)
}

// CreatePost publishes a member post.
func (s *Service) CreatePost(ctx context.Context, actor *model.User, form PostForm) (*model.Post, error) {
	if err := validate.Struct(form); err != nil {
		return nil, err
	}
	if err := branchExists(ctx, s.store, form.BranchID); err != nil {
		return nil, err
	}
	p := &model.Post{
		BranchID:  form.BranchID,
		AuthorID:  actor.ID,
		Title:     strings.TrimSpace(form.Title),
		Content:   form.Content,
		Link:      form.Link,
		ImageURL:  form.ImageURL,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if err := s.store.CreatePost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePost hides a post. Authors and admins only.
func (s *Service) DeletePost(ctx context.Context, actor *model.User, id string) error {
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if !s.canModify(actor, p.AuthorID) {
		return ErrForbidden
	}
	return s.store.SetPostActive(ctx, id, false)
}

// Business returns a business listing.
func (s *Service) Business(ctx context.Context, id string) (*model.Business, error) {
	return s.store.GetBusiness(ctx, id)
}

func newContent(branchID string, global bool, actor *model.User, now time.Time) model.Content {
	c := model.NewContent(branchID, actor.ID, now)
	c.IsGlobal = global
	return c
}
