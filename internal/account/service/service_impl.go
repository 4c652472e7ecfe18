package service

import (
	"context"
	"strings"

	"github.com/matchwell/entitlements/internal/account/domain"
	"github.com/matchwell/entitlements/internal/clock"
	"github.com/matchwell/entitlements/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreateLink(ctx context.Context, req domain.CreateLinkRequest) (domain.AccountLink, error) {
	externalCustomerID := strings.TrimSpace(req.ExternalCustomerID)
	if externalCustomerID == "" {
		return domain.AccountLink{}, domain.ErrInvalidCustomerID
	}
	if req.UserID <= 0 {
		return domain.AccountLink{}, domain.ErrInvalidUserID
	}

	link := domain.AccountLink{
		ExternalCustomerID: externalCustomerID,
		UserID:             req.UserID,
		CreatedAt:          s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, &link); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return domain.AccountLink{}, err
		}
		existing, findErr := s.repo.FindByExternalCustomerID(ctx, s.db, externalCustomerID)
		if findErr != nil {
			return domain.AccountLink{}, findErr
		}
		if existing != nil && existing.UserID == req.UserID {
			return *existing, nil
		}
		return domain.AccountLink{}, domain.ErrLinkConflict
	}

	s.log.Info("account link created",
		zap.String("external_customer_id", externalCustomerID),
		zap.Int64("user_id", req.UserID))
	return link, nil
}

func (s *Service) ResolveUser(ctx context.Context, externalCustomerID string) (int64, error) {
	externalCustomerID = strings.TrimSpace(externalCustomerID)
	if externalCustomerID == "" {
		return 0, domain.ErrInvalidCustomerID
	}

	link, err := s.repo.FindByExternalCustomerID(ctx, s.db, externalCustomerID)
	if err != nil {
		return 0, err
	}
	if link == nil {
		return 0, domain.ErrLinkNotFound
	}
	return link.UserID, nil
}
