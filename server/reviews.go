package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"itembay/market"
)

// CreateReview records feedback on a completed trade.
func (s *Server) CreateReview(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		TransactionID string `json:"transactionId"`
		TargetUserID  string `json:"targetUserId"`
		Rating        int    `json:"rating"`
		Comment       string `json:"comment"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	fields := map[string]string{}
	transactionID, err := uuid.Parse(strings.TrimSpace(req.TransactionID))
	if err != nil {
		fields["transactionId"] = "must be a uuid"
	}
	targetUserID, err := uuid.Parse(strings.TrimSpace(req.TargetUserID))
	if err != nil {
		fields["targetUserId"] = "must be a uuid"
	}
	if len(fields) > 0 {
		s.writeError(w, market.Invalid("invalid review", fields))
		return
	}

	review, err := s.engine.CreateReview(r.Context(), actor, market.ReviewInput{
		TransactionID: transactionID,
		TargetUserID:  targetUserID,
		Rating:        req.Rating,
		Comment:       strings.TrimSpace(req.Comment),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, review)
}

// ListUserReviews returns the reviews received by a user, with rating stats.
func (s *Server) ListUserReviews(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, market.Invalid("invalid user id", nil))
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := s.engine.ListReviews(r.Context(), id, page, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
