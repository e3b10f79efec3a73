package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sasha9954/photostudio-core/internal/types"
)

// TopupRequest credits the caller's account
type TopupRequest struct {
	Amount int64 `json:"amount" validate:"required,min=1,max=100000"`
}

// SpendRequest debits the caller's account outside any job
type SpendRequest struct {
	Amount int64  `json:"amount" validate:"required,min=1,max=10000"`
	Reason string `json:"reason" validate:"max=120"`
	Ref    string `json:"ref" validate:"max=200"`
}

// handleGetBalance handles GET /api/credits/balance
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.ledger.Balance(r.Context(), accountFromContext(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "balance": balance})
}

// handleListLedger handles GET /api/credits/ledger?limit=
func (s *Server) handleListLedger(w http.ResponseWriter, r *http.Request) {
	// a missing or non-numeric limit falls back to the default
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := s.ledger.List(r.Context(), accountFromContext(r.Context()), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "rows": rows})
}

// handleTopup handles POST /api/credits/topup
func (s *Server) handleTopup(w http.ResponseWriter, r *http.Request) {
	var req TopupRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	balance, err := s.ledger.Credit(r.Context(), accountFromContext(r.Context()), req.Amount, types.ReasonTopup, "")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "balance": balance})
}

// handleSpend handles POST /api/credits/spend
func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	var req SpendRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	reason := types.ReasonSpend
	if rs := strings.TrimSpace(req.Reason); rs != "" {
		reason = types.Reason(rs)
	}

	balance, err := s.ledger.Debit(r.Context(), accountFromContext(r.Context()), req.Amount, reason, strings.TrimSpace(req.Ref))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "balance": balance})
}
