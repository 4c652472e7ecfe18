package domain

import (
	"context"
	"errors"
)

type CreateLinkRequest struct {
	ExternalCustomerID string `json:"external_customer_id"`
	UserID             int64  `json:"user_id"`
}

type Service interface {
	// CreateLink records the checkout-time mapping. Re-linking the same
	// customer id to the same user is a no-op; to a different user it is
	// a conflict.
	CreateLink(ctx context.Context, req CreateLinkRequest) (AccountLink, error)
	// ResolveUser returns the internal user for an external customer id,
	// or ErrLinkNotFound.
	ResolveUser(ctx context.Context, externalCustomerID string) (int64, error)
}

var (
	ErrInvalidCustomerID = errors.New("invalid_customer_id")
	ErrInvalidUserID     = errors.New("invalid_user_id")
	ErrLinkNotFound      = errors.New("link_not_found")
	ErrLinkConflict      = errors.New("link_conflict")
)
