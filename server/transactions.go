package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"itembay/market"
	"itembay/models"
)

// CreateTransaction starts a purchase of an available listing.
func (s *Server) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		ListingID string `json:"listingId"`
		Currency  string `json:"currency"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	listingID, err := uuid.Parse(strings.TrimSpace(req.ListingID))
	if err != nil {
		s.writeError(w, market.Invalid("invalid listing id", map[string]string{"listingId": "must be a uuid"}))
		return
	}

	trade, err := s.engine.CreateTransaction(r.Context(), actor, listingID, strings.ToUpper(strings.TrimSpace(req.Currency)))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, trade)
}

// ListTransactions returns the caller's trades, filtered by relation and status.
func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := market.TransactionFilter{
		Relation: strings.ToLower(strings.TrimSpace(q.Get("role"))),
		Status:   models.TransactionStatus(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		Page:     page,
		Limit:    limit,
	}

	result, err := s.engine.ListTransactions(r.Context(), actor, filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// GetTransaction returns one trade for a participant or an admin.
func (s *Server) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, market.Invalid("invalid transaction id", nil))
		return
	}

	trade, err := s.engine.GetTransaction(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

// UpdateTransaction applies a status transition to a trade.
func (s *Server) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, market.Invalid("invalid transaction id", nil))
		return
	}

	var req struct {
		Status        string `json:"status"`
		TxHash        string `json:"txHash"`
		EscrowAddress string `json:"escrowAddress"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	trade, err := s.engine.UpdateStatus(r.Context(), actor, id, market.StatusUpdate{
		Status:        models.TransactionStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		TxHash:        strings.TrimSpace(req.TxHash),
		EscrowAddress: strings.TrimSpace(req.EscrowAddress),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}
