package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	accountdomain "github.com/matchwell/entitlements/internal/account/domain"
	auditdomain "github.com/matchwell/entitlements/internal/audit/domain"
	"github.com/matchwell/entitlements/internal/billing/domain"
	"github.com/matchwell/entitlements/internal/clock"
	obsmetrics "github.com/matchwell/entitlements/internal/observability/metrics"
	plandomain "github.com/matchwell/entitlements/internal/plan/domain"
	"github.com/matchwell/entitlements/internal/ratelimit"
)

const (
	// opTimeout bounds the persistence work for one event so a stalled
	// database turns into a redelivery instead of a hung handler.
	opTimeout = 5 * time.Second

	userLockTTL     = 5 * time.Second
	maxFoldAttempts = 3
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Catalog    plandomain.Catalog
	AccountSvc accountdomain.Service
	AuditSvc   auditdomain.Service
	Repo       domain.Repository
	Locker     *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	catalog    plandomain.Catalog
	accountSvc accountdomain.Service
	auditSvc   auditdomain.Service
	repo       domain.Repository
	locker     *ratelimit.Locker
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billing.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		catalog:    p.Catalog,
		accountSvc: p.AccountSvc,
		auditSvc:   p.AuditSvc,
		repo:       p.Repo,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

// ProcessEvent folds one canonical event into the owning user's
// subscription record. Every return with a nil error means the delivery
// may be acknowledged; a non-nil error asks the processor to redeliver.
func (s *Service) ProcessEvent(ctx context.Context, event *domain.BillingEvent) (domain.Outcome, error) {
	if err := validateEvent(event); err != nil {
		return "", err
	}
	if !json.Valid(event.RawPayload) {
		return "", domain.ErrInvalidPayload
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := s.clock.Now()
	received := domain.EventRecord{
		ID:                 s.genID.Generate(),
		Provider:           event.Provider,
		ProviderEventID:    event.ProviderEventID,
		EventType:          event.Type,
		ExternalCustomerID: event.ExternalCustomerID,
		Payload:            datatypes.JSON(event.RawPayload),
		ReceivedAt:         now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return "", err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return "", err
		}
		if stored == nil {
			return "", domain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return domain.OutcomeDuplicate, nil
		}
	}

	if event.Type == domain.EventTypeCustomerCreated {
		s.writeAuditLog(ctx, auditdomain.ActionCustomerCreated, "customer", event.ExternalCustomerID, map[string]any{
			"provider":          event.Provider,
			"provider_event_id": event.ProviderEventID,
		})
		if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
			return "", err
		}
		return domain.OutcomeProcessed, nil
	}

	userID, err := s.accountSvc.ResolveUser(ctx, event.ExternalCustomerID)
	if errors.Is(err, accountdomain.ErrLinkNotFound) {
		s.log.Warn("event references unlinked customer",
			zap.String("provider", event.Provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("external_customer_id", event.ExternalCustomerID),
		)
		s.writeAuditLog(ctx, auditdomain.ActionOrphanedEvent, "customer", event.ExternalCustomerID, map[string]any{
			"provider":          event.Provider,
			"provider_event_id": event.ProviderEventID,
			"event_type":        event.Type,
		})
		if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
			return "", err
		}
		return domain.OutcomeOrphaned, nil
	}
	if err != nil {
		return "", err
	}

	if s.locker != nil {
		key := fmt.Sprintf("entitlements:fold:%d", userID)
		token, ok, lockErr := s.locker.TryLock(ctx, key, userLockTTL)
		if lockErr != nil {
			s.log.Warn("user lock unavailable", zap.Int64("user_id", userID), zap.Error(lockErr))
		} else if ok {
			defer func() {
				if releaseErr := s.locker.Release(context.WithoutCancel(ctx), key, token); releaseErr != nil {
					s.log.Warn("user lock release failed", zap.Int64("user_id", userID), zap.Error(releaseErr))
				}
			}()
		}
	}

	res, err := s.foldEvent(ctx, userID, event)
	if err != nil {
		return "", err
	}

	if res.priceFallback {
		s.writeAuditLog(ctx, auditdomain.ActionUnknownPriceFallback, "user", strconv.FormatInt(userID, 10), map[string]any{
			"provider":          event.Provider,
			"provider_event_id": event.ProviderEventID,
			"price_id":          event.PriceID,
		})
	}
	s.writeAuditLog(ctx, res.action, "user", strconv.FormatInt(userID, 10), map[string]any{
		"provider":          event.Provider,
		"provider_event_id": event.ProviderEventID,
		"plan":              string(res.record.Plan),
		"status":            string(res.record.Status),
	})
	if s.obsMetrics != nil {
		s.obsMetrics.RecordTransition(ctx, res.action)
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return "", err
	}
	return domain.OutcomeProcessed, nil
}

// foldEvent runs the read-resolve-write cycle under the optimistic
// version guard, re-reading on contention.
func (s *Service) foldEvent(ctx context.Context, userID int64, event *domain.BillingEvent) (resolution, error) {
	var lastErr error
	for attempt := 0; attempt < maxFoldAttempts; attempt++ {
		current, err := s.repo.FindRecordByUserID(ctx, s.db, userID)
		if err != nil {
			return resolution{}, err
		}

		res, err := resolveNext(s.catalog, userID, event, current, s.clock.Now())
		if err != nil {
			return resolution{}, err
		}

		expectedVersion := int64(0)
		if current != nil {
			expectedVersion = current.Version
			res.record.Version = current.Version + 1
			res.record.CreatedAt = current.CreatedAt
		}

		ok, err := s.repo.UpsertRecord(ctx, s.db, &res.record, expectedVersion)
		if err != nil {
			return resolution{}, err
		}
		if ok {
			return res, nil
		}

		lastErr = domain.ErrRecordConflict
		s.log.Debug("record version conflict, retrying fold",
			zap.Int64("user_id", userID),
			zap.Int("attempt", attempt+1),
		)
	}
	return resolution{}, lastErr
}

func (s *Service) GetRecord(ctx context.Context, userID int64) (*domain.SubscriptionRecord, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidUserID
	}
	record, err := s.repo.FindRecordByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		// Users the billing pipeline never touched read as the free
		// baseline; nothing is persisted for them.
		baseline := baselineRecord(s.catalog, userID, s.clock.Now())
		return &baseline, nil
	}
	return record, nil
}

func (s *Service) RecordUsage(ctx context.Context, req domain.RecordUsageRequest) (*domain.SubscriptionRecord, error) {
	if req.UserID <= 0 {
		return nil, domain.ErrInvalidUserID
	}
	counter := strings.TrimSpace(req.Counter)
	if counter != domain.CounterContactViews && counter != domain.CounterProfileBoosts {
		return nil, domain.ErrInvalidUsageCounter
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidUsageAmount
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ok, err := s.repo.IncrementUsage(ctx, s.db, req.UserID, counter, req.Amount, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		record, err := s.repo.FindRecordByUserID(ctx, s.db, req.UserID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, domain.ErrRecordNotFound
		}
		return nil, domain.ErrQuotaExceeded
	}

	return s.repo.FindRecordByUserID(ctx, s.db, req.UserID)
}

// writeAuditLog is best effort: a failed audit write is logged and
// counted but never blocks acknowledging the event.
func (s *Service) writeAuditLog(ctx context.Context, action, targetType, targetID string, metadata map[string]any) {
	target := targetID
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeSystem), nil, action, targetType, &target, metadata); err != nil {
		s.log.Warn("audit write failed",
			zap.String("action", action),
			zap.String("target_id", targetID),
			zap.Error(err),
		)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordAuditFailure(ctx)
		}
	}
}

func validateEvent(event *domain.BillingEvent) error {
	if event == nil {
		return domain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return domain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return domain.ErrInvalidEvent
	}
	event.ExternalCustomerID = strings.TrimSpace(event.ExternalCustomerID)
	if event.ExternalCustomerID == "" {
		return domain.ErrInvalidEvent
	}
	if event.OccurredAt.IsZero() {
		return domain.ErrInvalidEvent
	}
	switch strings.TrimSpace(event.Type) {
	case domain.EventTypeSubscriptionCreated,
		domain.EventTypeSubscriptionUpdated,
		domain.EventTypeSubscriptionDeleted,
		domain.EventTypePaymentSucceeded,
		domain.EventTypePaymentFailed,
		domain.EventTypeCustomerCreated:
		event.Type = strings.TrimSpace(event.Type)
	default:
		return domain.ErrInvalidEvent
	}
	return nil
}
