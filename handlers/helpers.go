package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"wavecrate.app/server/delivery"
	"wavecrate.app/server/internal/logger"
	"wavecrate.app/server/ledger"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeOutcome renders a coordinator or delivery error as its {kind,
// message} outcome with the matching HTTP status.
func writeOutcome(w http.ResponseWriter, err error) {
	var outcome ledger.Outcome
	if errors.Is(err, delivery.ErrContentMissing) {
		outcome = ledger.Outcome{Kind: ledger.KindContentMissing, Message: "content file missing"}
	} else {
		outcome = ledger.OutcomeFor(err)
	}
	writeJSON(w, statusForKind(outcome.Kind), outcome)
}

func statusForKind(kind string) int {
	switch kind {
	case ledger.KindOK, ledger.KindAlreadyOwned:
		return http.StatusOK
	case ledger.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case ledger.KindInvalidAmount:
		return http.StatusBadRequest
	case ledger.KindUnknownRecipient, ledger.KindNotFound, ledger.KindContentMissing:
		return http.StatusNotFound
	case ledger.KindEmptyBundle:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}
