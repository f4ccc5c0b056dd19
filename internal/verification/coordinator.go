package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Registry interface {
	CheckOwnership(ctx context.Context, propertyId, ownerRef string) (*models.OwnershipCheck, error)
}

type Oracle interface {
	GetValuation(ctx context.Context, propertyId, address string) (*models.Valuation, error)
}

// Coordinator gates origination on a registry ownership check and an oracle
// valuation, run concurrently.
type Coordinator struct {
	registry Registry
	oracle   Oracle
	cfg      models.VerificationConfig
	now      func() time.Time
}

func NewCoordinator(registry Registry, oracle Oracle, cfg models.VerificationConfig) *Coordinator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Coordinator{
		registry: registry,
		oracle:   oracle,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Verify returns an immutable snapshot when ownerRef owns propertyId and the
// valuation confidence exceeds the threshold. The registry and the oracle are
// queried concurrently, so the oracle values the borrower's claimed address;
// the registry's address is what gets recorded.
func (c *Coordinator) Verify(ctx context.Context, propertyId, ownerRef, claimedAddress string) (*models.VerificationRecord, error) {
	if propertyId == "" || ownerRef == "" {
		return nil, errs.New(errs.ErrInvalidRequest, "property id and owner reference are required")
	}
	claimedAddress = strings.TrimSpace(claimedAddress)
	if claimedAddress == "" {
		return nil, errs.New(errs.ErrInvalidRequest, "claimed address of property %s is required", propertyId)
	}

	var (
		check     *models.OwnershipCheck
		valuation *models.Valuation
		regErr    error
		oracleErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		regErr = c.retry(gctx, "registry", errs.ErrRegistryUnreachable, func(callCtx context.Context) error {
			var err error
			check, err = c.registry.CheckOwnership(callCtx, propertyId, ownerRef)
			return err
		})
		if regErr == nil {
			regErr = checkOwnership(check, propertyId, ownerRef)
		}
		return regErr
	})
	g.Go(func() error {
		oracleErr = c.retry(gctx, "oracle", errs.ErrOracleUnreachable, func(callCtx context.Context) error {
			var err error
			valuation, err = c.oracle.GetValuation(callCtx, propertyId, claimedAddress)
			return err
		})
		if oracleErr == nil {
			oracleErr = c.checkValuation(valuation, propertyId)
		}
		return oracleErr
	})

	if err := g.Wait(); err != nil {
		err = c.classify(ctx, regErr, oracleErr)
		zap.L().Warn("Property verification failed",
			zap.String("property_id", propertyId),
			zap.String("error_kind", string(errs.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	snapshot, err := json.Marshal(check)
	if err != nil {
		return nil, fmt.Errorf("unable to encode registry snapshot: %w", err)
	}

	record := &models.VerificationRecord{
		PropertyId:       propertyId,
		OwnerRef:         ownerRef,
		Address:          check.Address,
		Valuation:        valuation.Value,
		Currency:         valuation.Currency,
		Confidence:       valuation.Confidence,
		ValuedAt:         valuation.Timestamp,
		RegistrySnapshot: string(snapshot),
		VerifiedAt:       c.now(),
	}
	if record.Address == "" {
		record.Address = claimedAddress
	}

	zap.L().Info("Property verified",
		zap.String("property_id", propertyId),
		zap.String("valuation", record.Valuation.String()),
		zap.String("currency", record.Currency),
		zap.String("confidence", record.Confidence.String()))

	return record, nil
}

func checkOwnership(check *models.OwnershipCheck, propertyId, ownerRef string) error {
	if check == nil || !check.Verified {
		reason := "registry owner does not match"
		if check != nil && check.Error != "" {
			reason = check.Error
		}
		return errs.New(errs.ErrOwnershipMismatch, "property %s: %s", propertyId, reason)
	}
	if check.OwnerRef != "" && check.OwnerRef != ownerRef {
		return errs.New(errs.ErrOwnershipMismatch, "property %s is registered to a different owner", propertyId)
	}
	return nil
}

func (c *Coordinator) checkValuation(v *models.Valuation, propertyId string) error {
	if v == nil || !v.Value.IsPositive() {
		return errs.New(errs.ErrLowConfidenceValuation, "property %s has no usable valuation", propertyId)
	}
	if !v.Confidence.GreaterThan(c.cfg.ConfidenceThreshold) {
		return errs.New(errs.ErrLowConfidenceValuation, "confidence %s does not exceed %s for property %s",
			v.Confidence, c.cfg.ConfidenceThreshold, propertyId)
	}
	return nil
}

// retry runs call with a per-attempt timeout and exponential backoff. Only
// transient errors are retried.
func (c *Coordinator) retry(ctx context.Context, name string, unreachable *errs.Error, call func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if c.cfg.InitialBackoff > 0 {
		b.InitialInterval = c.cfg.InitialBackoff
	}
	if c.cfg.MaxBackoff > 0 {
		b.MaxInterval = c.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		callCtx := ctx
		cancel := func() {}
		if c.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		}
		defer cancel()

		err := call(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = errs.Wrap(unreachable, err, "%s call timed out after %v", name, c.cfg.CallTimeout)
		}
		if !errs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		zap.L().Warn("Retrying provider call",
			zap.String("provider", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}

// classify picks the error reported to the caller. Policy violations win over
// transient failures, and exhausted transient failures surface as
// VerificationFailed.
func (c *Coordinator) classify(ctx context.Context, candidates ...error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var transient, other error
	for _, err := range candidates {
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		switch errs.KindOf(err) {
		case errs.KindPolicyViolation:
			return err
		case errs.KindTransientExternal:
			if transient == nil {
				transient = err
			}
		default:
			if other == nil {
				other = err
			}
		}
	}

	if other != nil {
		return other
	}
	if transient != nil {
		return errs.Wrap(errs.ErrVerificationFailed, transient, "after %d attempts", c.cfg.MaxAttempts)
	}
	return errs.New(errs.ErrVerificationFailed, "verification aborted")
}
