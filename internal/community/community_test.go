package community

import (
	"context"
	"testing"
	"time"

	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/logging"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/cityfam/cityfam/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, *database.SQLStore) {
	t.Helper()
	ctx := context.Background()
	store, err := database.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateBranch(ctx, &model.Branch{ID: "austin-tx", City: "Austin", State: "TX"}))
	require.NoError(t, store.CreateBranch(ctx, &model.Branch{ID: "dallas-tx", City: "Dallas", State: "TX"}))
	require.NoError(t, store.CreateBranch(ctx, &model.Branch{ID: "tulsa-ok", City: "Tulsa", State: "OK"}))
	return NewService(store, []string{"root"}, logging.Discard()), store
}

func TestEnsureUser(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	u, err := svc.EnsureUser(ctx, Identity{ID: "u1", Email: "u1@example.com", Name: "Uno"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, u.Role)
	assert.Equal(t, "Uno", u.DisplayName)

	again, err := svc.EnsureUser(ctx, Identity{ID: "u1", Email: "changed@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", again.Email, "existing users are not overwritten")

	admin, err := svc.EnsureUser(ctx, Identity{ID: "root"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, admin.Role)
	assert.True(t, svc.IsAdmin(admin))
	assert.False(t, svc.IsAdmin(u))
	assert.False(t, svc.IsAdmin(nil))
}

func TestSetHomeBranchMovesMemberCount(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	_, err := svc.EnsureUser(ctx, Identity{ID: "u1"})
	require.NoError(t, err)

	u, err := svc.SetHomeBranch(ctx, "u1", "austin-tx")
	require.NoError(t, err)
	assert.Equal(t, "austin-tx", u.HomeBranchID)

	_, err = svc.SetHomeBranch(ctx, "u1", "austin-tx")
	require.NoError(t, err)
	b, err := store.GetBranch(ctx, "austin-tx")
	require.NoError(t, err)
	assert.Equal(t, 1, b.MemberCount, "re-selecting the same branch changes nothing")

	_, err = svc.SetHomeBranch(ctx, "u1", "dallas-tx")
	require.NoError(t, err)
	austin, _ := store.GetBranch(ctx, "austin-tx")
	dallas, _ := store.GetBranch(ctx, "dallas-tx")
	assert.Equal(t, 0, austin.MemberCount)
	assert.Equal(t, 1, dallas.MemberCount)

	_, err = svc.SetHomeBranch(ctx, "u1", "nowhere")
	assert.ErrorIs(t, err, ErrUnknownBranch)
	dallas, _ = store.GetBranch(ctx, "dallas-tx")
	assert.Equal(t, 1, dallas.MemberCount, "failed move leaves counts untouched")
}

func TestSelectBranch(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	_, err := svc.EnsureUser(ctx, Identity{ID: "u1"})
	require.NoError(t, err)

	u, err := svc.SelectBranch(ctx, "u1", "tulsa-ok")
	require.NoError(t, err)
	assert.Equal(t, "tulsa-ok", u.SelectedBranchID)
	assert.Empty(t, u.HomeBranchID)

	_, err = svc.SelectBranch(ctx, "u1", "nowhere")
	assert.ErrorIs(t, err, ErrUnknownBranch)
}

func TestBranches(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	tx, err := svc.Branches(ctx, "TX", "")
	require.NoError(t, err)
	assert.Len(t, tx, 2)

	dallas, err := svc.Branches(ctx, "TX", "dallas")
	require.NoError(t, err)
	require.Len(t, dallas, 1)
	assert.Equal(t, "dallas-tx", dallas[0].ID)

	member := &model.User{ID: "u1", Role: model.RoleMember}
	_, err = svc.CreateBranch(ctx, member, BranchForm{City: "El Paso", State: "TX"})
	assert.ErrorIs(t, err, ErrForbidden)

	admin := &model.User{ID: "root"}
	b, err := svc.CreateBranch(ctx, admin, BranchForm{City: "El Paso", State: "TX"})
	require.NoError(t, err)
	assert.Equal(t, "el-paso-tx", b.ID)

	_, err = svc.CreateBranch(ctx, admin, BranchForm{City: "El Paso", State: "TX"})
	assert.ErrorIs(t, err, database.ErrConflict)

	_, err = svc.CreateBranch(ctx, admin, BranchForm{State: "TX"})
	assert.Equal(t, map[string]string{"city": "required"}, validate.Fields(err))
}

func TestEventLifecycle(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	owner := &model.User{ID: "owner"}
	other := &model.User{ID: "other"}
	admin := &model.User{ID: "root"}
	when := time.Date(2026, 7, 4, 18, 0, 0, 0, time.UTC)

	_, err := svc.CreateEvent(ctx, owner, EventForm{BranchID: "austin-tx", Date: when})
	assert.Contains(t, validate.Fields(err), "title")

	_, err = svc.CreateEvent(ctx, owner, EventForm{BranchID: "austin-tx", Title: "Fireworks", Date: when, IsGlobal: true})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CreateEvent(ctx, owner, EventForm{BranchID: "nowhere", Title: "Fireworks", Date: when})
	assert.ErrorIs(t, err, ErrUnknownBranch)

	e, err := svc.CreateEvent(ctx, owner, EventForm{BranchID: "austin-tx", Title: " Fireworks ", Date: when})
	require.NoError(t, err)
	assert.True(t, e.IsActive)
	assert.Equal(t, "Fireworks", e.Title)

	loc := "Auditorium Shores"
	_, err = svc.UpdateEvent(ctx, other, e.ID, EventPatch{Location: &loc})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.UpdateEvent(ctx, owner, e.ID, EventPatch{Location: &loc})
	require.NoError(t, err)
	assert.Equal(t, loc, updated.Location)
	assert.Equal(t, "Fireworks", updated.Title)

	global := true
	_, err = svc.UpdateEvent(ctx, owner, e.ID, EventPatch{IsGlobal: &global})
	assert.ErrorIs(t, err, ErrForbidden)
	updated, err = svc.UpdateEvent(ctx, admin, e.ID, EventPatch{IsGlobal: &global})
	require.NoError(t, err)
	assert.True(t, updated.IsGlobal)

	empty := ""
	_, err = svc.UpdateEvent(ctx, owner, e.ID, EventPatch{Title: &empty})
	assert.Contains(t, validate.Fields(err), "title")

	assert.ErrorIs(t, svc.DeleteEvent(ctx, other, e.ID), ErrForbidden)
	require.NoError(t, svc.DeleteEvent(ctx, owner, e.ID))
	stored, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	assert.ErrorIs(t, svc.DeleteEvent(ctx, owner, "missing"), database.ErrNotFound)
}

func TestJobsAndPosts(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	owner := &model.User{ID: "owner"}
	admin := &model.User{ID: "root"}

	_, err := svc.CreateJob(ctx, owner, JobForm{BranchID: "austin-tx", Title: "Barista", Type: "part-time", ApplyURL: "not a url"})
	fields := validate.Fields(err)
	assert.Equal(t, "required", fields["company"])
	assert.Equal(t, "url", fields["applyUrl"])

	j, err := svc.CreateJob(ctx, owner, JobForm{BranchID: "austin-tx", Title: "Barista", Type: "part-time", Company: "Bean There"})
	require.NoError(t, err)
	assert.True(t, j.IsActive)
	assert.False(t, j.IsGlobal)
	listed, err := store.ListJobs(ctx, model.ContentFilter{BranchID: "austin-tx", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.NoError(t, svc.DeleteJob(ctx, admin, j.ID))
	stored, err := store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	p, err := svc.CreatePost(ctx, owner, PostForm{BranchID: "austin-tx", Content: "Lost cat near the park"})
	require.NoError(t, err)
	assert.Equal(t, "owner", p.AuthorID)
	assert.ErrorIs(t, svc.DeletePost(ctx, &model.User{ID: "stranger"}, p.ID), ErrForbidden)
	require.NoError(t, svc.DeletePost(ctx, owner, p.ID))

	posts, err := store.ListPosts(ctx, "austin-tx", 10)
	require.NoError(t, err)
	assert.Empty(t, posts)
}
