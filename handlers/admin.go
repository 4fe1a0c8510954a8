package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"wavecrate.app/server/ledger"
)

type GrantRequest struct {
	RecipientID string `json:"recipient_id"`
	Amount      int64  `json:"amount"`
	Note        string `json:"note"`
}

type GrantResponse struct {
	Outcome ledger.Outcome `json:"outcome"`
	GrantID string         `json:"grant_id"`
	Balance int64          `json:"balance"`
}

// GrantCredits credits a recipient and appends one audit record as a single
// atomic unit.
func (s *Server) GrantCredits(w http.ResponseWriter, r *http.Request) {
	admin := userFrom(r.Context())

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RecipientID == "" {
		writeOutcome(w, ledger.ErrUnknownRecipient)
		return
	}

	result, err := s.Ledger.Grant(r.Context(), admin.ID, req.RecipientID, req.Amount, strings.TrimSpace(req.Note))
	if err != nil {
		writeOutcome(w, err)
		return
	}
	s.grants.Inc()

	writeJSON(w, http.StatusOK, GrantResponse{
		Outcome: ledger.OutcomeFor(nil),
		GrantID: result.Grant.ID,
		Balance: result.Balance,
	})
}

// ListGrants returns the recent entries of the grant audit trail.
func (s *Server) ListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := s.Storage.RecentGrants(r.Context(), 50)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"grants": grants})
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Storage.ListUsers(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}
