package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/airgate-io/airgate/internal/clock"
	rollupdomain "github.com/airgate-io/airgate/internal/rollup/domain"
	rolluprepo "github.com/airgate-io/airgate/internal/rollup/repository"
	rollupsvc "github.com/airgate-io/airgate/internal/rollup/service"
	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubPublisher struct {
	fanouts    int
	dispatches int
}

func (p *stubPublisher) Fanout(context.Context) (int, error) {
	p.fanouts++
	return 0, nil
}

func (p *stubPublisher) DispatchDue(context.Context) (int, error) {
	p.dispatches++
	return 0, nil
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *stubPublisher, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&usagedomain.UsageRecord{},
		&usagedomain.UsageCycle{},
		&rollupdomain.RollupBucket{},
		&JobRun{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))

	rollupService := rollupsvc.NewService(rollupsvc.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  rolluprepo.Provide(),
	})

	pub := &stubPublisher{}
	sched, err := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		RollupSvc: rollupService,
		Publisher: pub,
		Config:    cfg,
	})
	require.NoError(t, err)

	return sched, pub, db, fake, node
}

func seedAccumulatedRecord(t *testing.T, db *gorm.DB, node *snowflake.Node, orgID snowflake.ID, at time.Time) {
	t.Helper()

	simID := node.Generate()
	record := usagedomain.UsageRecord{
		ID:         node.Generate(),
		OrgID:      orgID,
		RecordID:   node.Generate().String(),
		SimID:      &simID,
		ICCID:      "893108500000000301",
		UsageType:  usagedomain.UsageTypeData,
		Quantity:   100,
		Unit:       "bytes",
		CycleID:    usagedomain.CycleIDFor(at),
		Matched:    true,
		Outcome:    usagedomain.OutcomeAccumulated,
		OccurredAt: at,
		CreatedAt:  at,
	}
	require.NoError(t, db.Create(&record).Error)
}

func TestRunOnceRunsAllJobs(t *testing.T) {
	sched, pub, db, fake, node := newTestScheduler(t, Config{})
	orgID := node.Generate()

	seedAccumulatedRecord(t, db, node, orgID, fake.Now().Add(-time.Hour))

	elapsed := usagedomain.UsageCycle{
		ID:        node.Generate(),
		OrgID:     orgID,
		SimID:     node.Generate(),
		CycleID:   "2026-06",
		StartedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:    time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt: fake.Now(),
		UpdatedAt: fake.Now(),
	}
	require.NoError(t, db.Create(&elapsed).Error)

	require.NoError(t, sched.RunOnce(context.Background()))

	var folded int64
	require.NoError(t, db.Model(&usagedomain.UsageRecord{}).
		Where("org_id = ? AND folded = ?", orgID, true).Count(&folded).Error)
	assert.Equal(t, int64(1), folded)

	var cycle usagedomain.UsageCycle
	require.NoError(t, db.First(&cycle, "id = ?", elapsed.ID).Error)
	assert.True(t, cycle.Closed)

	assert.Equal(t, 1, pub.fanouts)
	assert.Equal(t, 1, pub.dispatches)

	var runs []JobRun
	require.NoError(t, db.Where("job_name = ?", JobRollupPending).
		Order("id desc").Limit(1).Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, jobOutcomeOK, runs[0].Outcome)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestCycleRolloverWaitsForWindow(t *testing.T) {
	sched, _, db, fake, node := newTestScheduler(t, Config{})
	orgID := node.Generate()

	open := usagedomain.UsageCycle{
		ID:        node.Generate(),
		OrgID:     orgID,
		SimID:     node.Generate(),
		CycleID:   "2026-07",
		StartedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt: fake.Now(),
		UpdatedAt: fake.Now(),
	}
	require.NoError(t, db.Create(&open).Error)

	closed, err := sched.cycleRolloverJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, closed)

	fake.Advance(31 * 24 * time.Hour)
	closed, err = sched.cycleRolloverJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
}

func TestEnabledJobsFilter(t *testing.T) {
	sched, pub, _, _, _ := newTestScheduler(t, Config{EnabledJobs: []string{JobRollupPending}})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 0, pub.fanouts)
	assert.Equal(t, 0, pub.dispatches)
}
