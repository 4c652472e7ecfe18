package repository

import (
	"context"

	"github.com/matchwell/entitlements/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, link *domain.AccountLink) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO account_links (external_customer_id, user_id, created_at)
		 VALUES (?, ?, ?)`,
		link.ExternalCustomerID,
		link.UserID,
		link.CreatedAt,
	).Error
}

func (r *repo) FindByExternalCustomerID(ctx context.Context, db *gorm.DB, externalCustomerID string) (*domain.AccountLink, error) {
	var item domain.AccountLink
	err := db.WithContext(ctx).Raw(
		`SELECT external_customer_id, user_id, created_at
		 FROM account_links
		 WHERE external_customer_id = ?
		 LIMIT 1`,
		externalCustomerID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ExternalCustomerID == "" {
		return nil, nil
	}
	return &item, nil
}
