package service

import (
	"context"
	"testing"
	"time"

	"github.com/airgate-io/airgate/internal/clock"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	simrepo "github.com/airgate-io/airgate/internal/sim/repository"
	"github.com/airgate-io/airgate/internal/tenantctx"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&simdomain.Sim{}, &simdomain.SimEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.SystemClock{},
		Repo:  simrepo.Provide(),
	}).(*Service)

	return svc, db, node
}

func testCtx(orgID snowflake.ID) context.Context {
	return tenantctx.WithOrgID(context.Background(), int64(orgID))
}

func seedSim(t *testing.T, svc *Service, db *gorm.DB, orgID snowflake.ID, state simdomain.SimState) simdomain.Sim {
	t.Helper()

	now := time.Now().UTC()
	sim := simdomain.Sim{
		ID:        svc.genID.Generate(),
		OrgID:     orgID,
		ICCID:     "89445000000000" + sim5(svc.genID.Generate()),
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Create(&sim).Error)
	return sim
}

func sim5(id snowflake.ID) string {
	s := id.String()
	return s[len(s)-5:]
}

func TestTransitionLegality(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	ctx := testCtx(orgID)

	tests := []struct {
		name    string
		from    simdomain.SimState
		target  simdomain.SimState
		wantErr error
	}{
		{name: "provisioned to active", from: simdomain.SimStateProvisioned, target: simdomain.SimStateActive},
		{name: "active to suspended", from: simdomain.SimStateActive, target: simdomain.SimStateSuspended},
		{name: "suspended to active", from: simdomain.SimStateSuspended, target: simdomain.SimStateActive},
		{name: "active to blocked", from: simdomain.SimStateActive, target: simdomain.SimStateBlocked},
		{name: "suspended to blocked", from: simdomain.SimStateSuspended, target: simdomain.SimStateBlocked},
		{name: "blocked to terminated", from: simdomain.SimStateBlocked, target: simdomain.SimStateTerminated},
		{name: "provisioned to suspended rejected", from: simdomain.SimStateProvisioned, target: simdomain.SimStateSuspended, wantErr: simdomain.ErrInvalidTransition},
		{name: "blocked to suspended rejected", from: simdomain.SimStateBlocked, target: simdomain.SimStateSuspended, wantErr: simdomain.ErrInvalidTransition},
		{name: "terminated to active rejected", from: simdomain.SimStateTerminated, target: simdomain.SimStateActive, wantErr: simdomain.ErrInvalidTransition},
		{name: "terminated to blocked rejected", from: simdomain.SimStateTerminated, target: simdomain.SimStateBlocked, wantErr: simdomain.ErrInvalidTransition},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sim := seedSim(t, svc, db, orgID, tc.from)

			got, err := svc.Transition(ctx, simdomain.TransitionRequest{
				SimID:  sim.ID.String(),
				Target: tc.target,
			})
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.target, got.State)

			var count int64
			require.NoError(t, db.Model(&simdomain.SimEvent{}).
				Where("sim_id = ? AND to_state = ?", sim.ID, tc.target).
				Count(&count).Error)
			assert.Equal(t, int64(1), count, "expected exactly one lifecycle event")
		})
	}
}

func TestTransitionSameStateIsNoOp(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	ctx := testCtx(orgID)

	sim := seedSim(t, svc, db, orgID, simdomain.SimStateActive)

	got, err := svc.Transition(ctx, simdomain.TransitionRequest{
		SimID:  sim.ID.String(),
		Target: simdomain.SimStateActive,
	})
	assert.NoError(t, err)
	assert.Equal(t, simdomain.SimStateActive, got.State)

	var count int64
	require.NoError(t, db.Model(&simdomain.SimEvent{}).Where("sim_id = ?", sim.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count, "no-op must not emit an event")
}

func TestTransitionCarriesCorrelationID(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	ctx := testCtx(orgID)

	sim := seedSim(t, svc, db, orgID, simdomain.SimStateActive)

	_, err := svc.Transition(ctx, simdomain.TransitionRequest{
		SimID:         sim.ID.String(),
		Target:        simdomain.SimStateSuspended,
		Reason:        "billing_hold",
		CorrelationID: "req-7f3a",
	})
	require.NoError(t, err)

	var event simdomain.SimEvent
	require.NoError(t, db.Where("sim_id = ?", sim.ID).First(&event).Error)
	assert.Equal(t, "req-7f3a", event.CorrelationID)
	assert.Equal(t, "billing_hold", event.Reason)
}

func TestUnblockCarriesCorrelationID(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	ctx := testCtx(orgID)

	sim := seedSim(t, svc, db, orgID, simdomain.SimStateActive)
	_, err := svc.Transition(ctx, simdomain.TransitionRequest{
		SimID:  sim.ID.String(),
		Target: simdomain.SimStateBlocked,
	})
	require.NoError(t, err)

	_, err = svc.Unblock(ctx, sim.ID.String(), "review_cleared", "req-9c21")
	require.NoError(t, err)

	var event simdomain.SimEvent
	require.NoError(t, db.Where("sim_id = ? AND event_type = ?", sim.ID, simdomain.EventSimUnblocked).First(&event).Error)
	assert.Equal(t, "req-9c21", event.CorrelationID)
}

func TestUnblockRestoresPriorState(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	ctx := testCtx(orgID)

	for _, prior := range []simdomain.SimState{simdomain.SimStateActive, simdomain.SimStateSuspended} {
		sim := seedSim(t, svc, db, orgID, prior)

		blocked, err := svc.Transition(ctx, simdomain.TransitionRequest{
			SimID:  sim.ID.String(),
			Target: simdomain.SimStateBlocked,
			Reason: "fraud_review",
		})
		require.NoError(t, err)
		assert.Equal(t, simdomain.SimStateBlocked, blocked.State)
		assert.Equal(t, prior, blocked.PriorState)

		restored, err := svc.Unblock(ctx, sim.ID.String(), "review_cleared", "")
		require.NoError(t, err)
		assert.Equal(t, prior, restored.State)
		assert.Equal(t, simdomain.SimState(""), restored.PriorState)
	}
}

func TestUnblockRequiresBlockedState(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	ctx := testCtx(orgID)

	sim := seedSim(t, svc, db, orgID, simdomain.SimStateActive)

	_, err := svc.Unblock(ctx, sim.ID.String(), "", "")
	assert.ErrorIs(t, err, simdomain.ErrSimNotBlocked)
}

func TestTerminateSetsTimestampAndIsTerminal(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	ctx := testCtx(orgID)

	sim := seedSim(t, svc, db, orgID, simdomain.SimStateActive)

	got, err := svc.Transition(ctx, simdomain.TransitionRequest{
		SimID:  sim.ID.String(),
		Target: simdomain.SimStateTerminated,
	})
	require.NoError(t, err)
	assert.Equal(t, simdomain.SimStateTerminated, got.State)
	assert.NotNil(t, got.TerminatedAt)

	_, err = svc.Transition(ctx, simdomain.TransitionRequest{
		SimID:  sim.ID.String(),
		Target: simdomain.SimStateActive,
	})
	assert.ErrorIs(t, err, simdomain.ErrInvalidTransition)
}

func TestCreateValidatesICCID(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := testCtx(node.Generate())

	_, err := svc.Create(ctx, simdomain.CreateSimRequest{ICCID: "not-a-number"})
	assert.ErrorIs(t, err, simdomain.ErrInvalidICCID)

	_, err = svc.Create(ctx, simdomain.CreateSimRequest{ICCID: "1234"})
	assert.ErrorIs(t, err, simdomain.ErrInvalidICCID)
}

func TestCreateRejectsDuplicateICCID(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := testCtx(node.Generate())

	const iccid = "8944500000000000123"
	created, err := svc.Create(ctx, simdomain.CreateSimRequest{ICCID: iccid})
	require.NoError(t, err)
	assert.Equal(t, simdomain.SimStateProvisioned, created.State)

	_, err = svc.Create(ctx, simdomain.CreateSimRequest{ICCID: iccid})
	assert.ErrorIs(t, err, simdomain.ErrDuplicateICCID)
}

func TestCreateWithActivate(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := testCtx(node.Generate())

	created, err := svc.Create(ctx, simdomain.CreateSimRequest{
		ICCID:    "8944500000000000456",
		Activate: true,
	})
	require.NoError(t, err)
	assert.Equal(t, simdomain.SimStateActive, created.State)
	assert.NotNil(t, created.ActivatedAt)

	var events []simdomain.SimEvent
	require.NoError(t, db.Where("sim_id = ?", created.ID).Order("id asc").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, simdomain.EventSimProvisioned, events[0].EventType)
	assert.Equal(t, simdomain.EventSimActivated, events[1].EventType)
}

func TestGetByIDScopedToOrg(t *testing.T) {
	svc, db, node := newTestService(t)
	orgA := node.Generate()
	orgB := node.Generate()

	sim := seedSim(t, svc, db, orgA, simdomain.SimStateActive)

	_, err := svc.GetByID(testCtx(orgB), sim.ID.String())
	assert.ErrorIs(t, err, simdomain.ErrSimNotFound)

	got, err := svc.GetByID(testCtx(orgA), sim.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, sim.ID, got.ID)
}
