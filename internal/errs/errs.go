package errs

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindTransientExternal    Kind = "transient_external"
	KindPolicyViolation      Kind = "policy_violation"
	KindConsistencyViolation Kind = "consistency_violation"
	KindNotFound             Kind = "not_found"
	KindInvalidRequest       Kind = "invalid_request"
)

// Error carries a stable Code for matching with errors.Is, a Kind for
// routing and an optional human readable Reason.
type Error struct {
	Kind   Kind
	Code   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Code, so a sentinel matches every
// instance derived from it with New or Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func define(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// Sentinel errors. Compare with errors.Is.
var (
	ErrRegistryUnreachable = define(KindTransientExternal, "registry_unreachable")
	ErrOracleUnreachable   = define(KindTransientExternal, "oracle_unreachable")
	ErrVerificationFailed  = define(KindTransientExternal, "verification_failed")
	ErrBroadcastFailed     = define(KindTransientExternal, "broadcast_failed")
	ErrSettlementTimedOut  = define(KindTransientExternal, "settlement_timed_out")

	ErrOwnershipMismatch      = define(KindPolicyViolation, "ownership_mismatch")
	ErrLowConfidenceValuation = define(KindPolicyViolation, "low_confidence_valuation")
	ErrLoanClosed             = define(KindPolicyViolation, "loan_closed")
	ErrTokenMismatch          = define(KindPolicyViolation, "token_mismatch")
	ErrUnsupportedToken       = define(KindPolicyViolation, "unsupported_token")
	ErrOverpayment            = define(KindPolicyViolation, "overpayment")
	ErrWalletNotLinked        = define(KindPolicyViolation, "wallet_not_linked")
	ErrDisbursementInFlight   = define(KindPolicyViolation, "disbursement_in_flight")
	ErrIdempotencyConflict    = define(KindPolicyViolation, "idempotency_conflict")
	ErrPropertyEncumbered     = define(KindPolicyViolation, "property_encumbered")

	ErrDuplicateConfirmation  = define(KindConsistencyViolation, "duplicate_confirmation")
	ErrConflictingSettlement  = define(KindConsistencyViolation, "conflicting_settlement")
	ErrLateSettlement         = define(KindConsistencyViolation, "late_settlement")
	ErrAccrualOnInactiveLoan  = define(KindConsistencyViolation, "accrual_on_inactive_loan")
	ErrInvalidTransition      = define(KindConsistencyViolation, "invalid_transition")
	ErrConcurrentModification = define(KindConsistencyViolation, "concurrent_modification")
	ErrLedgerMismatch         = define(KindConsistencyViolation, "ledger_mismatch")

	ErrLoanNotFound    = define(KindNotFound, "loan_not_found")
	ErrUserNotFound    = define(KindNotFound, "user_not_found")
	ErrPaymentNotFound = define(KindNotFound, "payment_not_found")

	ErrInvalidAmount  = define(KindInvalidRequest, "invalid_amount")
	ErrInvalidRate    = define(KindInvalidRequest, "invalid_rate")
	ErrInvalidRequest = define(KindInvalidRequest, "invalid_request")
)

// New derives an error from a sentinel with a reason.
func New(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Reason: fmt.Sprintf(format, args...)}
}

// Wrap derives an error from a sentinel that keeps cause in its chain.
func Wrap(base *Error, cause error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Reason: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a transient external failure.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientExternal
}
