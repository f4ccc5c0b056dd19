// Package testutil holds deterministic in-memory stand-ins for the external
// collaborators. Tests inject them in place of the HTTP and Prime clients.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// Registry answers ownership checks from a fixed owner table.
type Registry struct {
	mu        sync.Mutex
	owners    map[string]string
	addresses map[string]string
	failures  int
	delay     time.Duration
	calls     int
}

func NewRegistry() *Registry {
	return &Registry{owners: make(map[string]string), addresses: make(map[string]string)}
}

func (r *Registry) SetOwner(propertyId, ownerRef, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[propertyId] = ownerRef
	r.addresses[propertyId] = address
}

// FailNext makes the next n calls report the registry as unreachable.
func (r *Registry) FailNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
}

func (r *Registry) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

func (r *Registry) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *Registry) CheckOwnership(ctx context.Context, propertyId, ownerRef string) (*models.OwnershipCheck, error) {
	r.mu.Lock()
	r.calls++
	delay := r.delay
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	owner, known := r.owners[propertyId]
	address := r.addresses[propertyId]
	r.mu.Unlock()

	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}
	if fail {
		return nil, errs.New(errs.ErrRegistryUnreachable, "injected failure")
	}
	if !known {
		return &models.OwnershipCheck{PropertyId: propertyId, Error: "property not found"}, nil
	}
	return &models.OwnershipCheck{
		PropertyId:   propertyId,
		Verified:     owner == ownerRef,
		Address:      address,
		PropertyType: "villa",
		SizeSqm:      120,
	}, nil
}

// Oracle returns fixed valuations per property.
type Oracle struct {
	mu         sync.Mutex
	valuations map[string]models.Valuation
	failures   int
	calls      int
}

func NewOracle() *Oracle {
	return &Oracle{valuations: make(map[string]models.Valuation)}
}

func (o *Oracle) SetValuation(propertyId string, value, confidence string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.valuations[propertyId] = models.Valuation{
		PropertyId: propertyId,
		Value:      decimal.RequireFromString(value),
		Confidence: decimal.RequireFromString(confidence),
		Currency:   "SEK",
		Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (o *Oracle) FailNext(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = n
}

func (o *Oracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *Oracle) GetValuation(ctx context.Context, propertyId, _ string) (*models.Valuation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.failures > 0 {
		o.failures--
		return nil, errs.New(errs.ErrOracleUnreachable, "injected failure")
	}
	v, ok := o.valuations[propertyId]
	if !ok {
		return nil, errs.New(errs.ErrInvalidRequest, "no valuation for %s", propertyId)
	}
	return &v, nil
}

// Chain is a settlement provider that assigns references deterministically
// and reports whatever status a test sets.
type Chain struct {
	mu         sync.Mutex
	byKey      map[string]string
	statuses   map[string]models.ChainStatus
	broadcasts []models.BroadcastRequest
	failures   int
	seq        int
}

func NewChain() *Chain {
	return &Chain{byKey: make(map[string]string), statuses: make(map[string]models.ChainStatus)}
}

func (c *Chain) FailNextBroadcast(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
}

func (c *Chain) Broadcast(ctx context.Context, req models.BroadcastRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.failures > 0 {
		c.failures--
		return "", errs.New(errs.ErrBroadcastFailed, "injected failure")
	}
	if ref, ok := c.byKey[req.IdempotencyKey]; ok {
		return ref, nil
	}
	c.seq++
	ref := fmt.Sprintf("0xtx%04d", c.seq)
	c.byKey[req.IdempotencyKey] = ref
	c.broadcasts = append(c.broadcasts, req)
	return ref, nil
}

// Broadcasts returns the distinct transfers sent so far.
func (c *Chain) Broadcasts() []models.BroadcastRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.BroadcastRequest, len(c.broadcasts))
	copy(out, c.broadcasts)
	return out
}

// ReferenceFor returns the reference assigned to an idempotency key.
func (c *Chain) ReferenceFor(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byKey[key]
}

func (c *Chain) SetStatus(reference string, status models.ChainStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[reference] = status
}

func (c *Chain) Confirm(reference string, height int64) {
	c.SetStatus(reference, models.ChainStatus{State: models.ChainStateConfirmed, BlockHeight: &height})
}

// GetStatus looks the transfer up by reference, falling back to the
// idempotency key it was broadcast under.
func (c *Chain) GetStatus(ctx context.Context, reference, idempotencyKey string) (*models.ChainStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref := reference
	if ref == "" {
		ref = c.byKey[idempotencyKey]
	}
	status, ok := c.statuses[ref]
	if !ok || ref == "" {
		return &models.ChainStatus{State: models.ChainStatePending}, nil
	}
	if ref != reference {
		status.Reference = ref
	}
	return &status, nil
}

// Deeds mints sequential token ids.
type Deeds struct {
	mu     sync.Mutex
	minted map[string]models.Deed
	fail   bool
}

func NewDeeds() *Deeds {
	return &Deeds{minted: make(map[string]models.Deed)}
}

func (d *Deeds) SetFailing(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *Deeds) MintDeed(_ context.Context, user *models.User, loan *models.Loan) (*models.Deed, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errs.New(errs.ErrBroadcastFailed, "injected mint failure")
	}
	if user.WalletAddress == "" {
		return nil, errs.New(errs.ErrWalletNotLinked, "user %s", user.Id)
	}
	deed := models.Deed{
		ContractAddress: "0xdeedcontract",
		TokenId:         fmt.Sprintf("%d", len(d.minted)+1),
		TransactionHash: "0xmint-" + loan.Id,
	}
	d.minted[loan.Id] = deed
	return &deed, nil
}

func (d *Deeds) Minted(loanId string) (models.Deed, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	deed, ok := d.minted[loanId]
	return deed, ok
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
