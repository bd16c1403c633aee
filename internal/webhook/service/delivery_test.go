package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airgate-io/airgate/internal/clock"
	"github.com/airgate-io/airgate/internal/config"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"github.com/airgate-io/airgate/internal/tenantctx"
	webhookdomain "github.com/airgate-io/airgate/internal/webhook/domain"
	webhookrepo "github.com/airgate-io/airgate/internal/webhook/repository"
	"github.com/airgate-io/airgate/internal/webhook/signer"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestPublisher(t *testing.T) (*Publisher, *Registry, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&simdomain.Sim{},
		&simdomain.SimEvent{},
		&webhookdomain.Subscriber{},
		&webhookdomain.Delivery{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	repo := webhookrepo.Provide()

	pub := NewPublisher(PublisherParams{
		Cfg:   config.Config{WebhookTimeoutMS: 5000},
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  repo,
	}).(*Publisher)

	reg := NewRegistry(RegistryParams{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  repo,
	}).(*Registry)

	return pub, reg, db, fake, node
}

func testCtx(orgID snowflake.ID) context.Context {
	return tenantctx.WithOrgID(context.Background(), int64(orgID))
}

func seedEvent(t *testing.T, db *gorm.DB, node *snowflake.Node, orgID snowflake.ID, eventType string) simdomain.SimEvent {
	t.Helper()

	event := simdomain.SimEvent{
		ID:         node.Generate(),
		OrgID:      orgID,
		SimID:      node.Generate(),
		EventType:  eventType,
		FromState:  simdomain.SimStateProvisioned,
		ToState:    simdomain.SimStateActive,
		OccurredAt: time.Date(2026, 6, 1, 11, 59, 0, 0, time.UTC),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.Create(&event).Error)
	return event
}

func pendingDeliveries(t *testing.T, db *gorm.DB, orgID snowflake.ID) []webhookdomain.Delivery {
	t.Helper()

	var deliveries []webhookdomain.Delivery
	require.NoError(t, db.Where("org_id = ?", orgID).Order("id asc").Find(&deliveries).Error)
	return deliveries
}

func TestFanoutCreatesDeliveries(t *testing.T) {
	pub, reg, db, _, node := newTestPublisher(t)
	orgID := node.Generate()

	_, err := reg.CreateSubscriber(testCtx(orgID), webhookdomain.CreateSubscriberRequest{
		URL: "https://example.com/hooks",
	})
	require.NoError(t, err)
	_, err = reg.CreateSubscriber(testCtx(orgID), webhookdomain.CreateSubscriberRequest{
		URL:        "https://example.com/terminations",
		EventTypes: []string{simdomain.EventSimTerminated},
	})
	require.NoError(t, err)

	event := seedEvent(t, db, node, orgID, simdomain.EventSimActivated)

	published, err := pub.Fanout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	deliveries := pendingDeliveries(t, db, orgID)
	require.Len(t, deliveries, 1, "filtered subscriber must not receive off-type events")
	assert.Equal(t, event.ID, deliveries[0].EventID)
	assert.Equal(t, webhookdomain.DeliveryStatusPending, deliveries[0].Status)

	var stored simdomain.SimEvent
	require.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	assert.True(t, stored.Published)

	again, err := pub.Fanout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again)
	assert.Len(t, pendingDeliveries(t, db, orgID), 1)
}

func TestDispatchDeliversAndSigns(t *testing.T) {
	pub, reg, db, _, node := newTestPublisher(t)
	orgID := node.Generate()

	var gotSignature atomic.Value
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		gotSignature.Store(r.Header.Get(signer.Header))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := reg.CreateSubscriber(testCtx(orgID), webhookdomain.CreateSubscriberRequest{
		URL:    srv.URL,
		Secret: "sub-secret",
	})
	require.NoError(t, err)
	seedEvent(t, db, node, orgID, simdomain.EventSimActivated)

	_, err = pub.Fanout(context.Background())
	require.NoError(t, err)
	attempted, err := pub.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, attempted)

	deliveries := pendingDeliveries(t, db, orgID)
	require.Len(t, deliveries, 1)
	assert.Equal(t, webhookdomain.DeliveryStatusDelivered, deliveries[0].Status)
	assert.Equal(t, 1, deliveries[0].Attempts)
	require.NotNil(t, deliveries[0].DeliveredAt)

	body, _ := gotBody.Load().([]byte)
	sig, _ := gotSignature.Load().(string)
	assert.True(t, signer.Verify("sub-secret", body, sig))
}

func TestDispatchPayloadCarriesCorrelationID(t *testing.T) {
	pub, reg, db, _, node := newTestPublisher(t)
	orgID := node.Generate()

	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := reg.CreateSubscriber(testCtx(orgID), webhookdomain.CreateSubscriberRequest{URL: srv.URL})
	require.NoError(t, err)

	event := simdomain.SimEvent{
		ID:            node.Generate(),
		OrgID:         orgID,
		SimID:         node.Generate(),
		EventType:     simdomain.EventSimBlocked,
		FromState:     simdomain.SimStateActive,
		ToState:       simdomain.SimStateBlocked,
		Reason:        "fraud_review",
		CorrelationID: "req-51ab",
		OccurredAt:    time.Date(2026, 6, 1, 11, 59, 0, 0, time.UTC),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, db.Create(&event).Error)

	_, err = pub.Fanout(context.Background())
	require.NoError(t, err)
	_, err = pub.DispatchDue(context.Background())
	require.NoError(t, err)

	body, _ := gotBody.Load().([]byte)
	require.NotEmpty(t, body)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "req-51ab", payload["correlation_id"])
	assert.Equal(t, "fraud_review", payload["reason"])
}

func TestDispatchRetriesWithBackoff(t *testing.T) {
	pub, reg, db, fake, node := newTestPublisher(t)
	orgID := node.Generate()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := reg.CreateSubscriber(testCtx(orgID), webhookdomain.CreateSubscriberRequest{URL: srv.URL})
	require.NoError(t, err)
	seedEvent(t, db, node, orgID, simdomain.EventSimBlocked)

	_, err = pub.Fanout(context.Background())
	require.NoError(t, err)

	// Attempt 1 fails and is rescheduled into the future.
	_, err = pub.DispatchDue(context.Background())
	require.NoError(t, err)
	deliveries := pendingDeliveries(t, db, orgID)
	require.Len(t, deliveries, 1)
	assert.Equal(t, webhookdomain.DeliveryStatusPending, deliveries[0].Status)
	assert.Equal(t, 1, deliveries[0].Attempts)
	assert.True(t, deliveries[0].NextAttemptAt.After(fake.Now()))

	// Nothing is due until the clock passes the backoff window.
	attempted, err := pub.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, attempted)

	fake.Advance(time.Minute)
	_, err = pub.DispatchDue(context.Background())
	require.NoError(t, err)

	fake.Advance(2 * time.Minute)
	_, err = pub.DispatchDue(context.Background())
	require.NoError(t, err)

	deliveries = pendingDeliveries(t, db, orgID)
	assert.Equal(t, webhookdomain.DeliveryStatusDelivered, deliveries[0].Status)
	assert.Equal(t, 3, deliveries[0].Attempts)
}

func TestDispatchExhaustsToFailed(t *testing.T) {
	pub, reg, db, fake, node := newTestPublisher(t)
	orgID := node.Generate()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := reg.CreateSubscriber(testCtx(orgID), webhookdomain.CreateSubscriberRequest{URL: srv.URL})
	require.NoError(t, err)
	seedEvent(t, db, node, orgID, simdomain.EventSimSuspended)

	_, err = pub.Fanout(context.Background())
	require.NoError(t, err)

	maxAttempts := config.DefaultMediationConfig().Webhook.MaxAttempts
	for i := 0; i < maxAttempts; i++ {
		_, err = pub.DispatchDue(context.Background())
		require.NoError(t, err)
		fake.Advance(2 * time.Hour)
	}

	deliveries := pendingDeliveries(t, db, orgID)
	require.Len(t, deliveries, 1)
	assert.Equal(t, webhookdomain.DeliveryStatusFailed, deliveries[0].Status)
	assert.Equal(t, maxAttempts, deliveries[0].Attempts)
	assert.NotEmpty(t, deliveries[0].LastError)

	// A failed delivery never becomes due again.
	fake.Advance(48 * time.Hour)
	attempted, err := pub.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, attempted)
}

func TestRegistryValidation(t *testing.T) {
	_, reg, _, _, node := newTestPublisher(t)
	orgID := node.Generate()

	_, err := reg.CreateSubscriber(testCtx(orgID), webhookdomain.CreateSubscriberRequest{URL: "not a url"})
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidURL)

	_, err = reg.CreateSubscriber(testCtx(orgID), webhookdomain.CreateSubscriberRequest{URL: "ftp://example.com"})
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidURL)

	_, err = reg.CreateSubscriber(testCtx(orgID), webhookdomain.CreateSubscriberRequest{
		URL:        "https://example.com/hooks",
		EventTypes: []string{"sim.exploded"},
	})
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidEventType)

	_, err = reg.CreateSubscriber(context.Background(), webhookdomain.CreateSubscriberRequest{URL: "https://example.com"})
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidOrganization)
}

func TestDeactivatedSubscriberFailsDelivery(t *testing.T) {
	pub, reg, db, _, node := newTestPublisher(t)
	orgID := node.Generate()

	sub, err := reg.CreateSubscriber(testCtx(orgID), webhookdomain.CreateSubscriberRequest{
		URL: "https://example.com/hooks",
	})
	require.NoError(t, err)
	seedEvent(t, db, node, orgID, simdomain.EventSimActivated)

	_, err = pub.Fanout(context.Background())
	require.NoError(t, err)

	inactive := false
	_, err = reg.UpdateSubscriber(testCtx(orgID), webhookdomain.UpdateSubscriberRequest{
		SubscriberID: sub.ID.String(),
		Active:       &inactive,
	})
	require.NoError(t, err)

	_, err = pub.DispatchDue(context.Background())
	require.NoError(t, err)

	deliveries := pendingDeliveries(t, db, orgID)
	require.Len(t, deliveries, 1)
	assert.Equal(t, webhookdomain.DeliveryStatusFailed, deliveries[0].Status)
}
