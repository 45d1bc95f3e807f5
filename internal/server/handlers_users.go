package server

import (
	"io"
	"net/http"

	"github.com/cityfam/cityfam/internal/analytics"
	"github.com/cityfam/cityfam/internal/business"
	"github.com/cityfam/cityfam/internal/community"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/cityfam/cityfam/internal/validate"
)

// maxWebhookBytes bounds provider webhook payloads.
const maxWebhookBytes = 64 << 10

type branchRequest struct {
	BranchID string `json:"branchId" validate:"required"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

func (s *Server) handleSetHomeBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := s.decodeValid(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.community.SetHomeBranch(r.Context(), currentUser(r).ID, req.BranchID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleSelectBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := s.decodeValid(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.community.SelectBranch(r.Context(), currentUser(r).ID, req.BranchID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// decodeValid decodes a JSON body and validates it.
func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := decodeJSON(w, r, dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

// --- Paid tier ---

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var form business.Form
	if err := decodeJSON(w, r, &form); err != nil {
		s.writeError(w, r, err)
		return
	}
	url, err := s.business.StartCheckout(r.Context(), currentUser(r), form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type createBusinessRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	UserID    string `json:"userId"`
}

func (s *Server) handleCreateBusiness(w http.ResponseWriter, r *http.Request) {
	var req createBusinessRequest
	if err := s.decodeValid(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u := currentUser(r)
	if req.UserID != "" && req.UserID != u.ID {
		s.writeError(w, r, community.ErrForbidden)
		return
	}
	res, err := s.business.Materialize(r.Context(), req.SessionID, u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		s.analytics.Record(model.AnalyticsEvent{
			Type:     analytics.EventSubscribed,
			BranchID: res.Business.BranchID,
			UserID:   u.ID,
			TargetID: res.Business.ID,
		})
	}
	writeJSON(w, status, res)
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.business.CancelSubscription(r.Context(), currentUser(r).ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": model.SubscriptionCanceled})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		s.writeError(w, r, errBadRequest)
		return
	}
	ev, err := s.payments.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.log.WithError(err).Warn("webhook rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook"})
		return
	}
	// A failure answers 500 so the provider redelivers.
	if err := s.business.HandleWebhookEvent(r.Context(), ev); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
