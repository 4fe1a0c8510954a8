package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds means the account balance cannot cover the cost
	// of the unowned samples in the purchase.
	ErrInsufficientFunds = errors.New("insufficient credits")
	// ErrInvalidAmount means a grant amount was zero or negative.
	ErrInvalidAmount = errors.New("amount must be a positive number of credits")
	// ErrUnknownRecipient means the grant recipient does not exist.
	ErrUnknownRecipient = errors.New("recipient not found")
	// ErrEmptyBundle means a pack resolved to zero purchasable samples.
	ErrEmptyBundle = errors.New("pack has no samples")
	// ErrNotFound means the purchase target does not exist in the catalog.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable wraps store failures. The atomic unit either
	// fully committed or fully rolled back before this surfaces, so the
	// caller may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Outcome kinds form the closed set the presentation layer maps to
// user-facing text. AlreadyOwned is informational, not an error: it marks
// the re-access path where delivery proceeded without a charge.
const (
	KindOK                 = "ok"
	KindAlreadyOwned       = "already_owned"
	KindInsufficientFunds  = "insufficient_funds"
	KindInvalidAmount      = "invalid_amount"
	KindUnknownRecipient   = "unknown_recipient"
	KindEmptyBundle        = "empty_bundle"
	KindNotFound           = "not_found"
	KindContentMissing     = "content_missing"
	KindStorageUnavailable = "storage_unavailable"
)

type Outcome struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// OutcomeFor maps a coordinator error to its outcome. Unrecognized errors
// are reported as storage failures; those are the only non-terminal kind.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: KindOK, Message: "ok"}
	case errors.Is(err, ErrInsufficientFunds):
		return Outcome{Kind: KindInsufficientFunds, Message: err.Error()}
	case errors.Is(err, ErrInvalidAmount):
		return Outcome{Kind: KindInvalidAmount, Message: err.Error()}
	case errors.Is(err, ErrUnknownRecipient):
		return Outcome{Kind: KindUnknownRecipient, Message: err.Error()}
	case errors.Is(err, ErrEmptyBundle):
		return Outcome{Kind: KindEmptyBundle, Message: err.Error()}
	case errors.Is(err, ErrNotFound):
		return Outcome{Kind: KindNotFound, Message: err.Error()}
	default:
		return Outcome{Kind: KindStorageUnavailable, Message: "the store could not complete the operation, try again"}
	}
}

// storeErr passes domain sentinels through untouched and wraps anything
// else as a storage failure.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrUnknownRecipient),
		errors.Is(err, ErrNotFound):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	}
}
