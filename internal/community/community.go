// Package community manages members, branches and the content they publish.
package community

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/cityfam/cityfam/internal/validate"
	"github.com/sirupsen/logrus"
)

var (
	// ErrForbidden is returned when the caller may not act on a record.
	ErrForbidden = errors.New("forbidden")
	// ErrUnknownBranch is returned when a write names a branch that does not exist.
	ErrUnknownBranch = errors.New("unknown branch")
)

// Service implements member and content management over the store.
type Service struct {
	store  database.Store
	admins map[string]bool
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewService creates a community service. Users listed in admins are
// created with the admin role and treated as admins regardless of their stored role.
func NewService(store database.Store, admins []string, log logrus.FieldLogger) *Service {
	set := make(map[string]bool, len(admins))
	for _, id := range admins {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = true
		}
	}
	return &Service{store: store, admins: set, log: log, now: time.Now}
}

// IsAdmin reports whether u may administer branches and content.
func (s *Service) IsAdmin(u *model.User) bool {
	return u != nil && (u.IsAdmin() || s.admins[u.ID])
}

// Identity is what an authenticated request tells us about its user.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// EnsureUser returns the user for id, creating the record on first sight.
func (s *Service) EnsureUser(ctx context.Context, id Identity) (*model.User, error) {
	u, err := s.store.GetUser(ctx, id.ID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	role := model.RoleMember
	if s.admins[id.ID] {
		role = model.RoleAdmin
	}
	created, err := s.store.CreateUser(ctx, &model.User{
		ID:          id.ID,
		Email:       id.Email,
		DisplayName: id.Name,
		Role:        role,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if created {
		s.log.WithField("user_id", id.ID).Info("user registered")
	}
	return s.store.GetUser(ctx, id.ID)
}

// Me returns the stored profile of userID.
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	return s.store.GetUser(ctx, userID)
}

// SetHomeBranch moves the user to branchID, keeping both branches' member
// counts in step within one transaction.
func (s *Service) SetHomeBranch(ctx context.Context, userID, branchID string) (*model.User, error) {
	err := s.store.RunInTx(ctx, func(q database.Queries) error {
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := branchExists(ctx, q, branchID); err != nil {
			return err
		}
		if u.HomeBranchID == branchID {
			return nil
		}
		if u.HomeBranchID != "" {
			if err := q.AdjustMemberCount(ctx, u.HomeBranchID, -1); err != nil && !errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("leave branch %s: %w", u.HomeBranchID, err)
			}
		}
		if err := q.AdjustMemberCount(ctx, branchID, 1); err != nil {
			return fmt.Errorf("join branch %s: %w", branchID, err)
		}
		return q.SetUserHomeBranch(ctx, userID, branchID)
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, userID)
}

// SelectBranch records the branch the user is currently browsing.
func (s *Service) SelectBranch(ctx context.Context, userID, branchID string) (*model.User, error) {
	if err := branchExists(ctx, s.store, branchID); err != nil {
		return nil, err
	}
	if err := s.store.SetUserSelectedBranch(ctx, userID, branchID); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, userID)
}

type branchGetter interface {
	GetBranch(ctx context.Context, id string) (*model.Branch, error)
}

func branchExists(ctx context.Context, q branchGetter, branchID string) error {
	_, err := q.GetBranch(ctx, branchID)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownBranch, branchID)
	}
	return err
}

// --- Branches ---

// BranchForm creates a branch. ID defaults to a slug of city and state.
type BranchForm struct {
	ID    string `json:"id" validate:"omitempty,max=80"`
	City  string `json:"city" validate:"required,max=80"`
	State string `json:"state" validate:"required,max=40"`
}

// Branches lists branches, optionally narrowed by state and city (case-insensitive).
func (s *Service) Branches(ctx context.Context, state, city string) ([]model.Branch, error) {
	branches, err := s.store.ListBranches(ctx, strings.TrimSpace(state))
	if err != nil {
		return nil, err
	}
	city = strings.TrimSpace(city)
	if city == "" {
		return branches, nil
	}
	out := make([]model.Branch, 0, len(branches))
	for _, b := range branches {
		if strings.EqualFold(b.City, city) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Branch returns one branch.
func (s *Service) Branch(ctx context.Context, id string) (*model.Branch, error) {
	return s.store.GetBranch(ctx, id)
}

// CreateBranch adds a branch. Admins only.
func (s *Service) CreateBranch(ctx context.Context, actor *model.User, form BranchForm) (*model.Branch, error) {
	if !s.IsAdmin(actor) {
		return nil, ErrForbidden
	}
	if err := validate.Struct(form); err != nil {
		return nil, err
	}
	b := &model.Branch{ID: form.ID, City: strings.TrimSpace(form.City), State: strings.TrimSpace(form.State)}
	if b.ID == "" {
		b.ID = slug(b.City + " " + b.State)
	}
	if err := s.store.CreateBranch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slug turns "Austin TX" into "austin-tx".
func slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// canModify reports whether actor owns a record created by ownerID or is an admin.
func (s *Service) canModify(actor *model.User, ownerID string) bool {
	return actor != nil && (actor.ID == ownerID || s.IsAdmin(actor))
}
