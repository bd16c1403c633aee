package domain

import (
	"context"
	"time"

	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type DeliveryFilter struct {
	OrgID  snowflake.ID
	Status string
	Limit  int
}

type Repository interface {
	InsertSubscriber(ctx context.Context, db *gorm.DB, sub *Subscriber) error
	FindSubscriber(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscriber, error)
	ListSubscribers(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*Subscriber, error)
	ListActiveSubscribers(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*Subscriber, error)
	UpdateSubscriber(ctx context.Context, db *gorm.DB, sub *Subscriber) error
	DeleteSubscriber(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error

	ListUnpublishedEvents(ctx context.Context, db *gorm.DB, limit int) ([]*simdomain.SimEvent, error)
	MarkEventPublished(ctx context.Context, db *gorm.DB, eventID snowflake.ID) error

	// InsertDelivery is a no-op when the (subscriber, event) pair
	// already has a delivery row.
	InsertDelivery(ctx context.Context, db *gorm.DB, delivery *Delivery) error
	ListDueDeliveries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Delivery, error)
	UpdateDelivery(ctx context.Context, db *gorm.DB, delivery *Delivery) error
	ListDeliveries(ctx context.Context, db *gorm.DB, filter DeliveryFilter) ([]*Delivery, error)
}
