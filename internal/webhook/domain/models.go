// Package domain contains webhook subscriptions and delivery state.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Delivery statuses. A delivery leaves pending exactly once.
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// Subscriber is one registered webhook endpoint. An empty EventTypes
// subscribes it to every event.
type Subscriber struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null;index" json:"org_id"`
	URL        string       `gorm:"type:text;not null" json:"url"`
	Secret     string       `gorm:"type:text;not null" json:"-"`
	EventTypes string       `gorm:"type:text;not null;default:''" json:"event_types"`
	Active     bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscriber) TableName() string { return "webhook_subscribers" }

// WantsEvent reports whether the subscriber's filter admits the event.
func (s Subscriber) WantsEvent(eventType string) bool {
	filter := strings.TrimSpace(s.EventTypes)
	if filter == "" {
		return true
	}
	for _, want := range strings.Split(filter, ",") {
		if strings.TrimSpace(want) == eventType {
			return true
		}
	}
	return false
}

// Delivery is one attempt stream of an event to one subscriber. The
// (subscriber_id, event_id) pair is unique so fanout can be re-run
// without duplicating deliveries.
type Delivery struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID      `gorm:"not null;index" json:"org_id"`
	SubscriberID  snowflake.ID      `gorm:"not null;uniqueIndex:idx_webhook_deliveries_event_subscriber,priority:1" json:"subscriber_id"`
	EventID       snowflake.ID      `gorm:"not null;uniqueIndex:idx_webhook_deliveries_event_subscriber,priority:2" json:"event_id"`
	EventType     string            `gorm:"type:text;not null" json:"event_type"`
	Payload       datatypes.JSONMap `gorm:"type:jsonb" json:"payload,omitempty"`
	Status        string            `gorm:"type:text;not null;default:pending" json:"status"`
	Attempts      int               `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt time.Time         `gorm:"not null" json:"next_attempt_at"`
	LastError     string            `gorm:"type:text;not null;default:''" json:"last_error,omitempty"`
	DeliveredAt   *time.Time        `json:"delivered_at,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Delivery) TableName() string { return "webhook_deliveries" }
