package verification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"
	"mortgage-settlement-go/internal/testutil"

	"github.com/shopspring/decimal"
)

const (
	propertyId = "STOCKHOLM-SODERMALM-1:23"
	owner      = "19900101-1234"
	claimed    = "Götgatan 1, Stockholm"
)

func testConfig() models.VerificationConfig {
	return models.VerificationConfig{
		ConfidenceThreshold: decimal.RequireFromString("0.8"),
		CallTimeout:         200 * time.Millisecond,
		MaxAttempts:         3,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          5 * time.Millisecond,
	}
}

func setup(confidence string) (*Coordinator, *testutil.Registry, *testutil.Oracle) {
	registry := testutil.NewRegistry()
	registry.SetOwner(propertyId, owner, "Götgatan 1, Stockholm")
	oracle := testutil.NewOracle()
	oracle.SetValuation(propertyId, "3500000", confidence)
	return NewCoordinator(registry, oracle, testConfig()), registry, oracle
}

func TestVerifySuccess(t *testing.T) {
	c, _, _ := setup("0.92")

	record, err := c.Verify(context.Background(), propertyId, owner, claimed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !record.Valuation.Equal(decimal.NewFromInt(3500000)) || record.Currency != "SEK" {
		t.Errorf("unexpected valuation %s %s", record.Valuation, record.Currency)
	}
	if record.Address != "Götgatan 1, Stockholm" {
		t.Errorf("Address = %q, want registry address", record.Address)
	}

	var snapshot models.OwnershipCheck
	if err := json.Unmarshal([]byte(record.RegistrySnapshot), &snapshot); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if !snapshot.Verified {
		t.Error("snapshot should record the verified registry answer")
	}
}

func TestVerifyPolicyViolations(t *testing.T) {
	tests := []struct {
		name       string
		confidence string
		owner      string
		want       error
	}{
		{"low confidence", "0.75", owner, errs.ErrLowConfidenceValuation},
		{"confidence equal to threshold", "0.8", owner, errs.ErrLowConfidenceValuation},
		{"owner mismatch", "0.95", "19800101-9999", errs.ErrOwnershipMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, registry, _ := setup(tt.confidence)
			_, err := c.Verify(context.Background(), propertyId, tt.owner, claimed)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.want)
			}
			if errs.KindOf(err) != errs.KindPolicyViolation {
				t.Errorf("KindOf() = %q, want policy violation", errs.KindOf(err))
			}
			if registry.Calls() != 1 {
				t.Errorf("registry calls = %d, terminal errors must not be retried", registry.Calls())
			}
		})
	}
}

func TestVerifyRetriesTransientFailures(t *testing.T) {
	c, registry, oracle := setup("0.9")
	registry.FailNext(2)
	oracle.FailNext(1)

	if _, err := c.Verify(context.Background(), propertyId, owner, claimed); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if registry.Calls() != 3 {
		t.Errorf("registry calls = %d, want 3", registry.Calls())
	}
	if oracle.Calls() != 2 {
		t.Errorf("oracle calls = %d, want 2", oracle.Calls())
	}
}

func TestVerifyGivesUpAfterMaxAttempts(t *testing.T) {
	c, registry, _ := setup("0.9")
	registry.FailNext(10)

	_, err := c.Verify(context.Background(), propertyId, owner, claimed)
	if !errors.Is(err, errs.ErrVerificationFailed) {
		t.Fatalf("Verify() error = %v, want ErrVerificationFailed", err)
	}
	if !errors.Is(err, errs.ErrRegistryUnreachable) {
		t.Errorf("error should keep the registry cause, got %v", err)
	}
	if registry.Calls() != 3 {
		t.Errorf("registry calls = %d, want 3", registry.Calls())
	}
}

func TestVerifyPerCallTimeout(t *testing.T) {
	c, registry, _ := setup("0.9")
	registry.SetDelay(5 * time.Second)

	start := time.Now()
	_, err := c.Verify(context.Background(), propertyId, owner, claimed)
	if !errors.Is(err, errs.ErrVerificationFailed) {
		t.Fatalf("Verify() error = %v, want ErrVerificationFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Verify() took %v, per-call timeout not applied", elapsed)
	}
}

func TestVerifyCancelled(t *testing.T) {
	c, registry, _ := setup("0.9")
	registry.SetDelay(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := c.Verify(ctx, propertyId, owner, claimed); !errors.Is(err, context.Canceled) {
		t.Errorf("Verify() error = %v, want context.Canceled", err)
	}
}

func TestVerifyRequiresInputs(t *testing.T) {
	c, _, _ := setup("0.9")
	if _, err := c.Verify(context.Background(), "", owner, claimed); !errors.Is(err, errs.ErrInvalidRequest) {
		t.Errorf("Verify() error = %v, want ErrInvalidRequest", err)
	}
}

func TestVerifyRequiresClaimedAddress(t *testing.T) {
	c, registry, oracle := setup("0.9")
	for _, address := range []string{"", "   "} {
		if _, err := c.Verify(context.Background(), propertyId, owner, address); !errors.Is(err, errs.ErrInvalidRequest) {
			t.Errorf("Verify(address %q) error = %v, want ErrInvalidRequest", address, err)
		}
	}
	if registry.Calls() != 0 || oracle.Calls() != 0 {
		t.Errorf("providers called %d/%d times without an address", registry.Calls(), oracle.Calls())
	}
}
