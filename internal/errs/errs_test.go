package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := New(ErrOverpayment, "amount %s exceeds %s", "10", "5")
	wrapped := fmt.Errorf("repay: %w", err)

	if !errors.Is(wrapped, ErrOverpayment) {
		t.Error("wrapped error should match ErrOverpayment")
	}
	if errors.Is(wrapped, ErrLoanClosed) {
		t.Error("wrapped error should not match ErrLoanClosed")
	}
	if KindOf(wrapped) != KindPolicyViolation {
		t.Errorf("KindOf() = %q, want %q", KindOf(wrapped), KindPolicyViolation)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrRegistryUnreachable, cause, "property %s", "p-1")

	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
	if !IsRetryable(err) {
		t.Error("registry unreachable should be retryable")
	}
	want := "registry_unreachable: property p-1: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if k := KindOf(errors.New("boom")); k != "" {
		t.Errorf("KindOf(plain) = %q, want empty", k)
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}
