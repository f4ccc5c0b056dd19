package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"
)

// OracleClient fetches property valuations from the price oracle.
type OracleClient struct {
	c *client
}

func NewOracleClient(baseURL, apiKey string, httpClient *http.Client) (*OracleClient, error) {
	c, err := newClient(baseURL, apiKey, httpClient, errs.ErrOracleUnreachable)
	if err != nil {
		return nil, err
	}
	return &OracleClient{c: c}, nil
}

func (o *OracleClient) GetValuation(ctx context.Context, propertyId, address string) (*models.Valuation, error) {
	path := "/v1/valuations/" + url.PathEscape(propertyId)
	if address != "" {
		path += "?" + url.Values{"address": {address}}.Encode()
	}

	var valuation models.Valuation
	err := o.c.do(ctx, http.MethodGet, path, nil, &valuation)

	var se *statusError
	if errors.As(err, &se) {
		return nil, errs.Wrap(errs.ErrInvalidRequest, err, "oracle rejected property %s", propertyId)
	}
	if err != nil {
		return nil, err
	}

	if valuation.PropertyId == "" {
		valuation.PropertyId = propertyId
	}
	if valuation.Currency == "" {
		valuation.Currency = "SEK"
	}
	return &valuation, nil
}
