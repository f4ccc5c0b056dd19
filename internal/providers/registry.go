package providers

import (
	"context"
	"errors"
	"net/http"

	"mortgage-settlement-go/internal/errs"
	"mortgage-settlement-go/internal/models"
)

// RegistryClient talks to the national land registry.
type RegistryClient struct {
	c *client
}

func NewRegistryClient(baseURL, apiKey string, httpClient *http.Client) (*RegistryClient, error) {
	c, err := newClient(baseURL, apiKey, httpClient, errs.ErrRegistryUnreachable)
	if err != nil {
		return nil, err
	}
	return &RegistryClient{c: c}, nil
}

type ownershipRequest struct {
	PropertyId string `json:"property_id"`
	OwnerRef   string `json:"owner_ref"`
}

// CheckOwnership asks whether ownerRef is the registered owner. An unknown
// property is a verified=false answer, not an error.
func (r *RegistryClient) CheckOwnership(ctx context.Context, propertyId, ownerRef string) (*models.OwnershipCheck, error) {
	var check models.OwnershipCheck
	err := r.c.do(ctx, http.MethodPost, "/v1/ownership/verify",
		ownershipRequest{PropertyId: propertyId, OwnerRef: ownerRef}, &check)

	var se *statusError
	switch {
	case errors.As(err, &se) && se.StatusCode == http.StatusNotFound:
		return &models.OwnershipCheck{PropertyId: propertyId, Verified: false, Error: "property not found"}, nil
	case errors.As(err, &se):
		return nil, errs.Wrap(errs.ErrInvalidRequest, err, "registry rejected property %s", propertyId)
	case err != nil:
		return nil, err
	}

	if check.PropertyId == "" {
		check.PropertyId = propertyId
	}
	return &check, nil
}
