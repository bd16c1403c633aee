package service

import (
	"context"
	"net/url"
	"strings"

	auditdomain "github.com/airgate-io/airgate/internal/audit/domain"
	"github.com/airgate-io/airgate/internal/audit/masking"
	"github.com/airgate-io/airgate/internal/clock"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"github.com/airgate-io/airgate/internal/tenantctx"
	webhookdomain "github.com/airgate-io/airgate/internal/webhook/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var knownEventTypes = map[string]struct{}{
	simdomain.EventSimProvisioned: {},
	simdomain.EventSimActivated:   {},
	simdomain.EventSimSuspended:   {},
	simdomain.EventSimBlocked:     {},
	simdomain.EventSimUnblocked:   {},
	simdomain.EventSimTerminated:  {},
}

type RegistryParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  webhookdomain.Repository
	Audit auditdomain.Service `optional:"true"`
}

type Registry struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  webhookdomain.Repository
	audit auditdomain.Service
}

func NewRegistry(p RegistryParams) webhookdomain.Registry {
	return &Registry{
		db:    p.DB,
		log:   p.Log.Named("webhook.registry"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		audit: p.Audit,
	}
}

func (r *Registry) CreateSubscriber(ctx context.Context, req webhookdomain.CreateSubscriberRequest) (webhookdomain.Subscriber, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok {
		return webhookdomain.Subscriber{}, webhookdomain.ErrInvalidOrganization
	}

	endpoint, err := normalizeURL(req.URL)
	if err != nil {
		return webhookdomain.Subscriber{}, err
	}
	eventTypes, err := normalizeEventTypes(req.EventTypes)
	if err != nil {
		return webhookdomain.Subscriber{}, err
	}

	secret := strings.TrimSpace(req.Secret)
	if secret == "" {
		secret = uuid.NewString()
	}

	now := r.clock.Now()
	sub := webhookdomain.Subscriber{
		ID:         r.genID.Generate(),
		OrgID:      orgID,
		URL:        endpoint,
		Secret:     secret,
		EventTypes: eventTypes,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.repo.InsertSubscriber(ctx, r.db, &sub); err != nil {
		return webhookdomain.Subscriber{}, err
	}

	r.log.Info("webhook subscriber registered",
		zap.String("org_id", orgID.String()),
		zap.String("subscriber_id", sub.ID.String()))
	r.auditAction(ctx, orgID, "webhook.subscriber.create", sub.ID, map[string]any{
		"url":    sub.URL,
		"secret": masking.MaskSecret(sub.Secret),
		"events": sub.EventTypes,
	})
	return sub, nil
}

func (r *Registry) GetSubscriber(ctx context.Context, subscriberID string) (webhookdomain.Subscriber, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok {
		return webhookdomain.Subscriber{}, webhookdomain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(subscriberID))
	if err != nil {
		return webhookdomain.Subscriber{}, webhookdomain.ErrInvalidSubscriber
	}

	sub, err := r.repo.FindSubscriber(ctx, r.db, orgID, id)
	if err != nil {
		return webhookdomain.Subscriber{}, err
	}
	if sub == nil {
		return webhookdomain.Subscriber{}, webhookdomain.ErrSubscriberNotFound
	}
	return *sub, nil
}

func (r *Registry) ListSubscribers(ctx context.Context) ([]webhookdomain.Subscriber, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok {
		return nil, webhookdomain.ErrInvalidOrganization
	}

	rows, err := r.repo.ListSubscribers(ctx, r.db, orgID)
	if err != nil {
		return nil, err
	}
	subs := make([]webhookdomain.Subscriber, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, *row)
	}
	return subs, nil
}

func (r *Registry) UpdateSubscriber(ctx context.Context, req webhookdomain.UpdateSubscriberRequest) (webhookdomain.Subscriber, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok {
		return webhookdomain.Subscriber{}, webhookdomain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(req.SubscriberID))
	if err != nil {
		return webhookdomain.Subscriber{}, webhookdomain.ErrInvalidSubscriber
	}

	sub, err := r.repo.FindSubscriber(ctx, r.db, orgID, id)
	if err != nil {
		return webhookdomain.Subscriber{}, err
	}
	if sub == nil {
		return webhookdomain.Subscriber{}, webhookdomain.ErrSubscriberNotFound
	}

	if req.URL != nil {
		endpoint, err := normalizeURL(*req.URL)
		if err != nil {
			return webhookdomain.Subscriber{}, err
		}
		sub.URL = endpoint
	}
	if req.Secret != nil && strings.TrimSpace(*req.Secret) != "" {
		sub.Secret = strings.TrimSpace(*req.Secret)
	}
	if req.EventTypes != nil {
		eventTypes, err := normalizeEventTypes(req.EventTypes)
		if err != nil {
			return webhookdomain.Subscriber{}, err
		}
		sub.EventTypes = eventTypes
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	sub.UpdatedAt = r.clock.Now()

	if err := r.repo.UpdateSubscriber(ctx, r.db, sub); err != nil {
		return webhookdomain.Subscriber{}, err
	}
	r.auditAction(ctx, orgID, "webhook.subscriber.update", sub.ID, map[string]any{
		"url":    sub.URL,
		"active": sub.Active,
		"events": sub.EventTypes,
	})
	return *sub, nil
}

func (r *Registry) DeleteSubscriber(ctx context.Context, subscriberID string) error {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok {
		return webhookdomain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(subscriberID))
	if err != nil {
		return webhookdomain.ErrInvalidSubscriber
	}

	sub, err := r.repo.FindSubscriber(ctx, r.db, orgID, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return webhookdomain.ErrSubscriberNotFound
	}
	if err := r.repo.DeleteSubscriber(ctx, r.db, orgID, id); err != nil {
		return err
	}
	r.auditAction(ctx, orgID, "webhook.subscriber.delete", id, map[string]any{
		"url": sub.URL,
	})
	return nil
}

func (r *Registry) ListDeliveries(ctx context.Context, req webhookdomain.ListDeliveryRequest) (webhookdomain.ListDeliveryResponse, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok {
		return webhookdomain.ListDeliveryResponse{}, webhookdomain.ErrInvalidOrganization
	}

	status := strings.TrimSpace(req.Status)
	switch status {
	case "", webhookdomain.DeliveryStatusPending, webhookdomain.DeliveryStatusDelivered, webhookdomain.DeliveryStatusFailed:
	default:
		return webhookdomain.ListDeliveryResponse{}, webhookdomain.ErrInvalidStatus
	}

	limit := req.Limit
	if limit <= 0 || limit > 250 {
		limit = 50
	}

	rows, err := r.repo.ListDeliveries(ctx, r.db, webhookdomain.DeliveryFilter{
		OrgID:  orgID,
		Status: status,
		Limit:  limit,
	})
	if err != nil {
		return webhookdomain.ListDeliveryResponse{}, err
	}

	deliveries := make([]webhookdomain.Delivery, 0, len(rows))
	for _, row := range rows {
		deliveries = append(deliveries, *row)
	}
	return webhookdomain.ListDeliveryResponse{Deliveries: deliveries}, nil
}

func (r *Registry) auditAction(ctx context.Context, orgID snowflake.ID, action string, subscriberID snowflake.ID, metadata map[string]any) {
	if r.audit == nil {
		return
	}
	target := subscriberID.String()
	if err := r.audit.AuditLog(ctx, &orgID, "", nil, action, auditdomain.TargetTypeSubscriber, &target, metadata); err != nil {
		r.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func normalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return "", webhookdomain.ErrInvalidURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", webhookdomain.ErrInvalidURL
	}
	return trimmed, nil
}

func normalizeEventTypes(types []string) (string, error) {
	cleaned := make([]string, 0, len(types))
	for _, eventType := range types {
		trimmed := strings.TrimSpace(eventType)
		if trimmed == "" {
			continue
		}
		if _, ok := knownEventTypes[trimmed]; !ok {
			return "", webhookdomain.ErrInvalidEventType
		}
		cleaned = append(cleaned, trimmed)
	}
	return strings.Join(cleaned, ","), nil
}
