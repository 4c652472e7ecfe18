package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, link *AccountLink) error
	FindByExternalCustomerID(ctx context.Context, db *gorm.DB, externalCustomerID string) (*AccountLink, error)
}
