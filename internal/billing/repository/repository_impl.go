package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/matchwell/entitlements/internal/billing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, external_customer_id,
			payload, received_at, processed_at
		 FROM billing_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO billing_events (
			id, provider, provider_event_id, event_type, external_customer_id,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.ExternalCustomerID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) FindRecordByUserID(ctx context.Context, db *gorm.DB, userID int64) (*domain.SubscriptionRecord, error) {
	var item domain.SubscriptionRecord
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, external_customer_id, external_subscription_id, plan, status,
			current_period_start, current_period_end, cancel_at_period_end, trial_end,
			contact_view_quota, contact_views_used, profile_boosts, profile_boosts_used,
			unlimited_chat, featured_placement, advanced_filters, video_call, priority_support,
			last_payment_at, next_billing_at, version, created_at, updated_at
		 FROM subscription_records
		 WHERE user_id = ?
		 LIMIT 1`,
		userID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.UserID == 0 {
		return nil, nil
	}
	return &item, nil
}

// UpsertRecord is a single statement; the version guard on the update arm
// makes racing folds lose cleanly instead of overwriting each other.
func (r *repo) UpsertRecord(ctx context.Context, db *gorm.DB, record *domain.SubscriptionRecord, expectedVersion int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO subscription_records (
			user_id, external_customer_id, external_subscription_id, plan, status,
			current_period_start, current_period_end, cancel_at_period_end, trial_end,
			contact_view_quota, contact_views_used, profile_boosts, profile_boosts_used,
			unlimited_chat, featured_placement, advanced_filters, video_call, priority_support,
			last_payment_at, next_billing_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			external_customer_id = excluded.external_customer_id,
			external_subscription_id = excluded.external_subscription_id,
			plan = excluded.plan,
			status = excluded.status,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			trial_end = excluded.trial_end,
			contact_view_quota = excluded.contact_view_quota,
			contact_views_used = excluded.contact_views_used,
			profile_boosts = excluded.profile_boosts,
			profile_boosts_used = excluded.profile_boosts_used,
			unlimited_chat = excluded.unlimited_chat,
			featured_placement = excluded.featured_placement,
			advanced_filters = excluded.advanced_filters,
			video_call = excluded.video_call,
			priority_support = excluded.priority_support,
			last_payment_at = excluded.last_payment_at,
			next_billing_at = excluded.next_billing_at,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE subscription_records.version = ?`,
		record.UserID,
		record.ExternalCustomerID,
		record.ExternalSubscriptionID,
		record.Plan,
		record.Status,
		record.CurrentPeriodStart,
		record.CurrentPeriodEnd,
		record.CancelAtPeriodEnd,
		record.TrialEnd,
		record.ContactViewQuota,
		record.ContactViewsUsed,
		record.ProfileBoosts,
		record.ProfileBoostsUsed,
		record.UnlimitedChat,
		record.FeaturedPlacement,
		record.AdvancedFilters,
		record.VideoCall,
		record.PrioritySupport,
		record.LastPaymentAt,
		record.NextBillingAt,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, userID int64, counter string, amount int, now time.Time) (bool, error) {
	var res *gorm.DB
	switch counter {
	case domain.CounterContactViews:
		res = db.WithContext(ctx).Exec(
			`UPDATE subscription_records
			 SET contact_views_used = contact_views_used + ?, updated_at = ?
			 WHERE user_id = ? AND contact_views_used + ? <= contact_view_quota`,
			amount, now, userID, amount,
		)
	case domain.CounterProfileBoosts:
		res = db.WithContext(ctx).Exec(
			`UPDATE subscription_records
			 SET profile_boosts_used = profile_boosts_used + ?, updated_at = ?
			 WHERE user_id = ? AND profile_boosts_used + ? <= profile_boosts`,
			amount, now, userID, amount,
		)
	default:
		return false, domain.ErrInvalidUsageCounter
	}
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
