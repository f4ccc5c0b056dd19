package webhook

import (
	"errors"
	"net/http"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// notification is a provider push. Amount and symbol describe what moved
// on-chain and are optional.
type notification struct {
	TransactionReference string `json:"transaction_reference"`
	State                string `json:"state"`
	BlockHeight          *int64 `json:"block_height"`
	Reason               string `json:"reason"`
	Amount               string `json:"amount"`
	Symbol               string `json:"symbol"`
}

func (n notification) chainStatus() (models.ChainStatus, bool) {
	state := models.ChainState(n.State)
	switch state {
	case models.ChainStatePending, models.ChainStateConfirmed, models.ChainStateFailed:
	default:
		return models.ChainStatus{}, false
	}
	status := models.ChainStatus{
		State:       state,
		BlockHeight: n.BlockHeight,
		Reason:      n.Reason,
		Reference:   n.TransactionReference,
		Symbol:      n.Symbol,
	}
	if n.Amount != "" {
		amount, err := decimal.NewFromString(n.Amount)
		if err != nil {
			return models.ChainStatus{}, false
		}
		status.Amount = decimal.NewNullDecimal(amount)
	}
	return status, true
}

// notify applies a provider push. Duplicate and late confirmations are
// acknowledged with 200 so the provider stops redelivering; a late one is
// flagged since the funds are held for review.
func (s *Server) notify(c echo.Context) error {
	var req notification
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.SettlementResult{
			ErrorKind: string(errs.KindInvalidRequest),
			Error:     "invalid body",
		})
	}
	status, ok := req.chainStatus()
	if req.TransactionReference == "" || !ok {
		return c.JSON(http.StatusBadRequest, models.SettlementResult{
			TransactionReference: req.TransactionReference,
			ErrorKind:            string(errs.KindInvalidRequest),
			Error:                "transaction_reference, a state of pending, confirmed or failed and a numeric amount if any are required",
		})
	}

	result := models.SettlementResult{TransactionReference: req.TransactionReference}
	paymentStatus, err := s.reconciler.Reconcile(c.Request().Context(), req.TransactionReference, status)
	switch {
	case err == nil:
		result.Success = true
		result.Status = paymentStatus
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, errs.ErrDuplicateConfirmation):
		result.Success = true
		result.Duplicate = true
		result.Status = paymentStatus
		if result.Status == "" {
			result.Status = models.PaymentStatusConfirmed
		}
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, errs.ErrLateSettlement):
		result.Success = true
		result.LateSettlement = true
		result.Status = paymentStatus
		result.ErrorKind = string(errs.KindOf(err))
		result.Error = err.Error()
		return c.JSON(http.StatusOK, result)
	}

	zap.L().Warn("Settlement notification rejected",
		zap.String("transaction_reference", req.TransactionReference),
		zap.String("state", req.State),
		zap.Error(err))
	result.ErrorKind = string(errs.KindOf(err))
	result.Error = err.Error()
	return c.JSON(statusFor(err), result)
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidRequest:
		return http.StatusBadRequest
	case errs.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case errs.KindConsistencyViolation:
		return http.StatusConflict
	case errs.KindTransientExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) map[string]string {
	body := map[string]string{"error": err.Error()}
	if kind := errs.KindOf(err); kind != "" {
		body["error_kind"] = string(kind)
	}
	return body
}
