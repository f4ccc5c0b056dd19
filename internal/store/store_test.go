package store_test

import (
	"testing"

	"mortgage-settlement-go/internal/database"
	"mortgage-settlement-go/internal/store"
)

var _ store.LedgerStore = (*database.Service)(nil)

func TestCreateLoanParamsZeroValue(t *testing.T) {
	var p store.CreateLoanParams
	if !p.Principal.IsZero() || p.Verification.PropertyId != "" {
		t.Errorf("zero CreateLoanParams = %+v", p)
	}
}
