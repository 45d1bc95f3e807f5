package server

import (
	"net/http"
	"strings"

	"github.com/cityfam/cityfam/internal/analytics"
	"github.com/cityfam/cityfam/internal/auth"
	"github.com/cityfam/cityfam/internal/community"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/go-chi/chi/v5"
)

// --- Branches ---

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := s.community.Branches(r.Context(), r.URL.Query().Get("state"), r.URL.Query().Get("city"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	b, err := s.community.Branch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var form community.BranchForm
	if err := decodeJSON(w, r, &form); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.community.CreateBranch(r.Context(), currentUser(r), form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleBranchStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.analytics.BranchStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Aggregated lists (never fail) ---

func (s *Server) handleLatestEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.content.LatestEvents(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.content.AllEvents(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleTrendingEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.content.TrendingEvents(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleLatestJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.content.LatestJobs(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleAllJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.content.AllJobs(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleBranchBusinesses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.content.BranchBusinesses(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleBranchPosts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.content.BranchPosts(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleSearchEvents(w http.ResponseWriter, r *http.Request) {
	q := s.searchTerm(r, "events")
	writeJSON(w, http.StatusOK, s.content.SearchEvents(r.Context(), q))
}

func (s *Server) handleSearchJobs(w http.ResponseWriter, r *http.Request) {
	q := s.searchTerm(r, "jobs")
	writeJSON(w, http.StatusOK, s.content.SearchJobs(r.Context(), q))
}

func (s *Server) handleSearchBusinesses(w http.ResponseWriter, r *http.Request) {
	q := s.searchTerm(r, "businesses")
	writeJSON(w, http.StatusOK, s.content.SearchBusinesses(r.Context(), q))
}

// searchTerm reads the q parameter and records the search.
func (s *Server) searchTerm(r *http.Request, kind string) string {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) != "" {
		s.analytics.Record(model.AnalyticsEvent{
			Type:     analytics.EventSearch,
			BranchID: r.URL.Query().Get("branch"),
			UserID:   auth.UserID(r.Context()),
			TargetID: kind,
		})
	}
	return q
}

// --- Events ---

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.community.Event(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.analytics.Record(model.AnalyticsEvent{
		Type:     analytics.EventView,
		BranchID: e.BranchID,
		UserID:   auth.UserID(r.Context()),
		TargetID: e.ID,
	})
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var form community.EventForm
	if err := decodeJSON(w, r, &form); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.community.CreateEvent(r.Context(), currentUser(r), form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var patch community.EventPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.community.UpdateEvent(r.Context(), currentUser(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.community.DeleteEvent(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleAttendance(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	e, attending, err := s.attendance.Toggle(r.Context(), chi.URLParam(r, "id"), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if attending {
		s.analytics.Record(model.AnalyticsEvent{Type: analytics.EventAttend, BranchID: e.BranchID, UserID: u.ID, TargetID: e.ID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"event": e, "attending": attending})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	eventID := chi.URLParam(r, "id")
	already, err := s.attendance.CheckIn(r.Context(), eventID, u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !already {
		s.analytics.Record(model.AnalyticsEvent{Type: analytics.EventCheckIn, UserID: u.ID, TargetID: eventID})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"alreadyCheckedIn": already})
}

func (s *Server) handleRemoveAttendee(w http.ResponseWriter, r *http.Request) {
	e, err := s.attendance.RemoveAttendee(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// --- Jobs and posts ---

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.community.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var form community.JobForm
	if err := decodeJSON(w, r, &form); err != nil {
		s.writeError(w, r, err)
		return
	}
	j, err := s.community.CreateJob(r.Context(), currentUser(r), form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.community.DeleteJob(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var form community.PostForm
	if err := decodeJSON(w, r, &form); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.community.CreatePost(r.Context(), currentUser(r), form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	if err := s.community.DeletePost(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Businesses ---

func (s *Server) handleGetBusiness(w http.ResponseWriter, r *http.Request) {
	b, err := s.community.Business(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
