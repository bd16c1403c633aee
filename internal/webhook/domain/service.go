package domain

import (
	"context"
	"errors"
)

type CreateSubscriberRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

type UpdateSubscriberRequest struct {
	SubscriberID string
	URL          *string  `json:"url,omitempty"`
	Secret       *string  `json:"secret,omitempty"`
	EventTypes   []string `json:"event_types,omitempty"`
	Active       *bool    `json:"active,omitempty"`
}

type ListDeliveryRequest struct {
	Status string
	Limit  int
}

type ListDeliveryResponse struct {
	Deliveries []Delivery `json:"deliveries"`
}

// Registry manages webhook subscriptions for an organization.
type Registry interface {
	CreateSubscriber(ctx context.Context, req CreateSubscriberRequest) (Subscriber, error)
	GetSubscriber(ctx context.Context, subscriberID string) (Subscriber, error)
	ListSubscribers(ctx context.Context) ([]Subscriber, error)
	UpdateSubscriber(ctx context.Context, req UpdateSubscriberRequest) (Subscriber, error)
	DeleteSubscriber(ctx context.Context, subscriberID string) error
	ListDeliveries(ctx context.Context, req ListDeliveryRequest) (ListDeliveryResponse, error)
}

// Publisher turns unpublished lifecycle events into pending deliveries
// and pushes due deliveries to subscriber endpoints.
type Publisher interface {
	// Fanout materializes deliveries for events not yet published.
	// Returns how many events it published.
	Fanout(ctx context.Context) (int, error)

	// DispatchDue attempts every delivery whose next_attempt_at has
	// passed. Returns how many deliveries it attempted.
	DispatchDue(ctx context.Context) (int, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidURL          = errors.New("invalid_url")
	ErrInvalidEventType    = errors.New("invalid_event_type")
	ErrSubscriberNotFound  = errors.New("subscriber_not_found")
	ErrInvalidSubscriber   = errors.New("invalid_subscriber")
	ErrInvalidStatus       = errors.New("invalid_status")
)
