package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// maxUploadForm bounds multipart bodies for OPML and image uploads.
const maxUploadForm = 10 << 20

type addFeedRequest struct {
	URL   string `json:"url" validate:"required,url"`
	Title string `json:"title" validate:"max=200"`
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "id")
	if _, err := s.community.Branch(r.Context(), branchID); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.feeds.Feeds(r.Context(), branchID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var req addFeedRequest
	if err := s.decodeValid(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	feed, imported, err := s.feeds.Subscribe(r.Context(), chi.URLParam(r, "id"), req.URL, req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"feed": feed, "imported": imported})
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	if err := s.feeds.Unsubscribe(r.Context(), chi.URLParam(r, "feedID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadForm)
	file, _, err := r.FormFile("opml")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file provided"})
		return
	}
	defer file.Close()

	res, err := s.feeds.ImportOPML(r.Context(), file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("failed to parse OPML: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	out, err := s.feeds.ExportOPML(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=cityfam-feeds.opml")
	_, _ = w.Write(out)
}

func (s *Server) handleRefreshFeeds(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	results, err := s.feeds.FetchAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total := 0
	for _, n := range results {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feeds":    len(results),
		"newPosts": total,
		"duration": time.Since(start).String(),
	})
}

// --- Uploads ---

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadForm)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file provided"})
		return
	}
	defer file.Close()

	folder := r.FormValue("folder")
	if folder == "" {
		folder = "misc"
	}
	ref, err := s.uploads.Upload(r.Context(), folder, file, header.Header.Get("Content-Type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ref": ref, "url": s.uploads.PublicURL(ref)})
}
