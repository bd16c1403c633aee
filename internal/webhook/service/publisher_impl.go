package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/airgate-io/airgate/internal/clock"
	"github.com/airgate-io/airgate/internal/config"
	obsmetrics "github.com/airgate-io/airgate/internal/observability/metrics"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	webhookdomain "github.com/airgate-io/airgate/internal/webhook/domain"
	"github.com/airgate-io/airgate/internal/webhook/signer"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	fanoutBatchSize   = 200
	dispatchBatchSize = 100
)

type PublisherParams struct {
	fx.In

	Cfg     config.Config
	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    webhookdomain.Repository
	Holder  *config.MediationConfigHolder `optional:"true"`
	Metrics *obsmetrics.Metrics           `optional:"true"`
}

type Publisher struct {
	cfg     config.Config
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    webhookdomain.Repository
	holder  *config.MediationConfigHolder
	metrics *obsmetrics.Metrics
	client  *http.Client
}

func NewPublisher(p PublisherParams) webhookdomain.Publisher {
	timeout := time.Duration(p.Cfg.WebhookTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{
		cfg:     p.Cfg,
		db:      p.DB,
		log:     p.Log.Named("webhook.publisher"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		holder:  p.Holder,
		metrics: p.Metrics,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *Publisher) Fanout(ctx context.Context) (int, error) {
	events, err := p.repo.ListUnpublishedEvents(ctx, p.db, fanoutBatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		if err := p.fanoutEvent(ctx, event); err != nil {
			// Leave the event unpublished so the next run retries it.
			p.log.Error("webhook fanout failed for event",
				zap.String("event_id", event.ID.String()),
				zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}

func (p *Publisher) fanoutEvent(ctx context.Context, event *simdomain.SimEvent) error {
	subs, err := p.repo.ListActiveSubscribers(ctx, p.db, event.OrgID)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	payload := eventPayload(event)

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sub := range subs {
			if !sub.WantsEvent(event.EventType) {
				continue
			}
			delivery := &webhookdomain.Delivery{
				ID:            p.genID.Generate(),
				OrgID:         event.OrgID,
				SubscriberID:  sub.ID,
				EventID:       event.ID,
				EventType:     event.EventType,
				Payload:       payload,
				Status:        webhookdomain.DeliveryStatusPending,
				NextAttemptAt: now,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := p.repo.InsertDelivery(ctx, tx, delivery); err != nil {
				return err
			}
		}
		return p.repo.MarkEventPublished(ctx, tx, event.ID)
	})
}

func (p *Publisher) DispatchDue(ctx context.Context) (int, error) {
	deliveries, err := p.repo.ListDueDeliveries(ctx, p.db, p.clock.Now(), dispatchBatchSize)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, delivery := range deliveries {
		if err := ctx.Err(); err != nil {
			return attempted, err
		}
		p.dispatch(ctx, delivery)
		attempted++
	}
	return attempted, nil
}

func (p *Publisher) dispatch(ctx context.Context, delivery *webhookdomain.Delivery) {
	sub, err := p.repo.FindSubscriber(ctx, p.db, delivery.OrgID, delivery.SubscriberID)
	if err != nil {
		p.log.Error("webhook subscriber lookup failed",
			zap.String("delivery_id", delivery.ID.String()),
			zap.Error(err))
		return
	}
	if sub == nil || !sub.Active {
		p.finalize(ctx, delivery, "subscriber_gone")
		return
	}

	err = p.send(ctx, sub, delivery)
	now := p.clock.Now()
	delivery.Attempts++
	delivery.UpdatedAt = now

	if err == nil {
		delivery.Status = webhookdomain.DeliveryStatusDelivered
		delivery.LastError = ""
		delivery.DeliveredAt = &now
		if updateErr := p.repo.UpdateDelivery(ctx, p.db, delivery); updateErr != nil {
			p.log.Error("webhook delivery update failed", zap.Error(updateErr))
			return
		}
		p.metrics.RecordWebhookDelivery(ctx, delivery.EventType, "delivered")
		return
	}

	retry := p.retryPolicy()
	delivery.LastError = err.Error()
	if delivery.Attempts >= retry.MaxAttempts {
		delivery.Status = webhookdomain.DeliveryStatusFailed
		p.metrics.RecordWebhookDelivery(ctx, delivery.EventType, "failed")
		p.log.Warn("webhook delivery exhausted",
			zap.String("delivery_id", delivery.ID.String()),
			zap.Int("attempts", delivery.Attempts),
			zap.String("last_error", delivery.LastError))
	} else {
		delivery.NextAttemptAt = now.Add(backoff(retry, delivery.Attempts))
		p.metrics.RecordWebhookDelivery(ctx, delivery.EventType, "retry")
	}
	if updateErr := p.repo.UpdateDelivery(ctx, p.db, delivery); updateErr != nil {
		p.log.Error("webhook delivery update failed", zap.Error(updateErr))
	}
}

func (p *Publisher) finalize(ctx context.Context, delivery *webhookdomain.Delivery, reason string) {
	delivery.Status = webhookdomain.DeliveryStatusFailed
	delivery.LastError = reason
	delivery.UpdatedAt = p.clock.Now()
	if err := p.repo.UpdateDelivery(ctx, p.db, delivery); err != nil {
		p.log.Error("webhook delivery update failed", zap.Error(err))
	}
	p.metrics.RecordWebhookDelivery(ctx, delivery.EventType, "failed")
}

func (p *Publisher) send(ctx context.Context, sub *webhookdomain.Subscriber, delivery *webhookdomain.Delivery) error {
	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		return err
	}

	secret := sub.Secret
	if secret == "" {
		secret = p.cfg.WebhookSigningSecret
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "airgate-webhook/1.0")
	req.Header.Set(signer.Header, signer.Sign(secret, body))
	req.Header.Set("X-Airgate-Event", delivery.EventType)
	req.Header.Set("X-Airgate-Delivery", delivery.ID.String())

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (p *Publisher) retryPolicy() config.WebhookRetry {
	if p.holder != nil {
		return p.holder.Get().Webhook
	}
	return config.DefaultMediationConfig().Webhook
}

// backoff doubles per attempt from the configured base, capped at the
// configured maximum.
func backoff(retry config.WebhookRetry, attempts int) time.Duration {
	base := time.Duration(retry.BaseBackoffSec) * time.Second
	max := time.Duration(retry.MaxBackoffSec) * time.Second
	wait := base
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= max {
			return max
		}
	}
	if wait > max {
		return max
	}
	return wait
}

func eventPayload(event *simdomain.SimEvent) datatypes.JSONMap {
	payload := datatypes.JSONMap{
		"id":          event.ID.String(),
		"event_type":  event.EventType,
		"org_id":      event.OrgID.String(),
		"sim_id":      event.SimID.String(),
		"from_state":  string(event.FromState),
		"to_state":    string(event.ToState),
		"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339),
	}
	if event.Reason != "" {
		payload["reason"] = event.Reason
	}
	if event.CorrelationID != "" {
		payload["correlation_id"] = event.CorrelationID
	}
	if len(event.Metadata) > 0 {
		payload["metadata"] = map[string]any(event.Metadata)
	}
	return payload
}
