package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	webhookdomain "github.com/airgate-io/airgate/internal/webhook/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() webhookdomain.Repository {
	return &repo{}
}

func (r *repo) InsertSubscriber(ctx context.Context, db *gorm.DB, sub *webhookdomain.Subscriber) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) FindSubscriber(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*webhookdomain.Subscriber, error) {
	var sub webhookdomain.Subscriber
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) ListSubscribers(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*webhookdomain.Subscriber, error) {
	var subs []*webhookdomain.Subscriber
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("id asc").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) ListActiveSubscribers(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*webhookdomain.Subscriber, error) {
	var subs []*webhookdomain.Subscriber
	err := db.WithContext(ctx).
		Where("org_id = ? AND active = ?", orgID, true).
		Order("id asc").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) UpdateSubscriber(ctx context.Context, db *gorm.DB, sub *webhookdomain.Subscriber) error {
	return db.WithContext(ctx).Model(&webhookdomain.Subscriber{}).
		Where("org_id = ? AND id = ?", sub.OrgID, sub.ID).
		Updates(map[string]any{
			"url":         sub.URL,
			"secret":      sub.Secret,
			"event_types": sub.EventTypes,
			"active":      sub.Active,
			"updated_at":  sub.UpdatedAt,
		}).Error
}

func (r *repo) DeleteSubscriber(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	return db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Delete(&webhookdomain.Subscriber{}).Error
}

func (r *repo) ListUnpublishedEvents(ctx context.Context, db *gorm.DB, limit int) ([]*simdomain.SimEvent, error) {
	var events []*simdomain.SimEvent
	stmt := db.WithContext(ctx).
		Where("published = ?", false).
		Order("id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkEventPublished(ctx context.Context, db *gorm.DB, eventID snowflake.ID) error {
	return db.WithContext(ctx).Model(&simdomain.SimEvent{}).
		Where("id = ?", eventID).
		Update("published", true).Error
}

func (r *repo) InsertDelivery(ctx context.Context, db *gorm.DB, delivery *webhookdomain.Delivery) error {
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		return db.WithContext(ctx).Exec(
			`INSERT INTO webhook_deliveries (
				id, org_id, subscriber_id, event_id, event_type, payload,
				status, attempts, next_attempt_at, last_error, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (subscriber_id, event_id) DO NOTHING`,
			delivery.ID,
			delivery.OrgID,
			delivery.SubscriberID,
			delivery.EventID,
			delivery.EventType,
			delivery.Payload,
			delivery.Status,
			delivery.Attempts,
			delivery.NextAttemptAt,
			delivery.LastError,
			delivery.CreatedAt,
			delivery.UpdatedAt,
		).Error
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscriber_id"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(delivery).Error
}

func (r *repo) ListDueDeliveries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*webhookdomain.Delivery, error) {
	var deliveries []*webhookdomain.Delivery
	stmt := db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", webhookdomain.DeliveryStatusPending, now).
		Order("next_attempt_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (r *repo) UpdateDelivery(ctx context.Context, db *gorm.DB, delivery *webhookdomain.Delivery) error {
	return db.WithContext(ctx).Model(&webhookdomain.Delivery{}).
		Where("id = ?", delivery.ID).
		Updates(map[string]any{
			"status":          delivery.Status,
			"attempts":        delivery.Attempts,
			"next_attempt_at": delivery.NextAttemptAt,
			"last_error":      delivery.LastError,
			"delivered_at":    delivery.DeliveredAt,
			"updated_at":      delivery.UpdatedAt,
		}).Error
}

func (r *repo) ListDeliveries(ctx context.Context, db *gorm.DB, filter webhookdomain.DeliveryFilter) ([]*webhookdomain.Delivery, error) {
	var deliveries []*webhookdomain.Delivery
	stmt := db.WithContext(ctx).Model(&webhookdomain.Delivery{}).
		Where("org_id = ?", filter.OrgID)
	if status := strings.TrimSpace(filter.Status); status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if err := stmt.Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}
