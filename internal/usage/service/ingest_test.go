package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/airgate-io/airgate/internal/clock"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	simrepo "github.com/airgate-io/airgate/internal/sim/repository"
	"github.com/airgate-io/airgate/internal/tenantctx"
	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	usagerepo "github.com/airgate-io/airgate/internal/usage/repository"
	"github.com/airgate-io/airgate/pkg/db/pagination"
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
	require.NoError(t, db.AutoMigrate(
		&simdomain.Sim{},
		&simdomain.SimEvent{},
		&usagedomain.UsageRecord{},
		&usagedomain.UsageCycle{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.SystemClock{},
		Repo:    usagerepo.Provide(),
		SimRepo: simrepo.Provide(),
	}).(*Service)

	return svc, db, node
}

func testCtx(orgID snowflake.ID) context.Context {
	return tenantctx.WithOrgID(context.Background(), int64(orgID))
}

func seedSim(t *testing.T, svc *Service, db *gorm.DB, orgID snowflake.ID, iccid string, state simdomain.SimState) simdomain.Sim {
	t.Helper()

	now := time.Now().UTC()
	sim := simdomain.Sim{
		ID:        svc.genID.Generate(),
		OrgID:     orgID,
		ICCID:     iccid,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, svc.simRepo.Insert(context.Background(), db, &sim))
	return sim
}

func dataRecord(iccid string, quantity int64) usagedomain.SubmitRecordRequest {
	return usagedomain.SubmitRecordRequest{
		ICCID:      iccid,
		UsageType:  usagedomain.UsageTypeData,
		Quantity:   quantity,
		OccurredAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestSubmitRecordAccumulates(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	sim := seedSim(t, svc, db, orgID, "893108500000000101", simdomain.SimStateActive)

	resp, err := svc.SubmitRecord(testCtx(orgID), dataRecord(sim.ICCID, 2048))
	require.NoError(t, err)
	assert.False(t, resp.Duplicate)
	assert.Equal(t, usagedomain.OutcomeAccumulated, resp.Record.Outcome)
	assert.True(t, resp.Record.Matched)
	require.NotNil(t, resp.Record.SimID)
	assert.Equal(t, sim.ID, *resp.Record.SimID)
	assert.Equal(t, "2026-03", resp.Record.CycleID)
	assert.Equal(t, "bytes", resp.Record.Unit)
	assert.NotEmpty(t, resp.Record.RecordID)

	cycle, err := svc.GetCycle(testCtx(orgID), usagedomain.GetCycleRequest{
		SimID:   sim.ID.String(),
		CycleID: "2026-03",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2048), cycle.DataBytes)
	assert.Equal(t, int64(1), cycle.RecordCount)
}

func TestSubmitRecordDirectionalBytes(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	sim := seedSim(t, svc, db, orgID, "893108500000000112", simdomain.SimStateActive)

	req := dataRecord(sim.ICCID, 3000)
	req.UploadBytes = 1000
	req.DownloadBytes = 2000

	resp, err := svc.SubmitRecord(testCtx(orgID), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), resp.Record.UploadBytes)
	assert.Equal(t, int64(2000), resp.Record.DownloadBytes)

	// Feeds that report only totals leave the direction counters at zero.
	second := dataRecord(sim.ICCID, 500)
	_, err = svc.SubmitRecord(testCtx(orgID), second)
	require.NoError(t, err)

	cycle, err := svc.GetCycle(testCtx(orgID), usagedomain.GetCycleRequest{
		SimID:   sim.ID.String(),
		CycleID: "2026-03",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3500), cycle.DataBytes)
	assert.Equal(t, int64(1000), cycle.UploadBytes)
	assert.Equal(t, int64(2000), cycle.DownloadBytes)
}

func TestSubmitRecordIdempotentReplay(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	sim := seedSim(t, svc, db, orgID, "893108500000000102", simdomain.SimStateActive)

	req := dataRecord(sim.ICCID, 512)
	req.RecordID = "cdr-2026-03-14-0001"

	first, err := svc.SubmitRecord(testCtx(orgID), req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.SubmitRecord(testCtx(orgID), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, first.Record.Outcome, second.Record.Outcome)

	cycle, err := svc.GetCycle(testCtx(orgID), usagedomain.GetCycleRequest{
		SimID:   sim.ID.String(),
		CycleID: "2026-03",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(512), cycle.DataBytes, "replay must not accumulate twice")
	assert.Equal(t, int64(1), cycle.RecordCount)
}

func TestSubmitRecordSameRecordIDDifferentOrgs(t *testing.T) {
	svc, db, node := newTestService(t)
	orgA := node.Generate()
	orgB := node.Generate()
	simA := seedSim(t, svc, db, orgA, "893108500000000103", simdomain.SimStateActive)
	simB := seedSim(t, svc, db, orgB, "893108500000000104", simdomain.SimStateActive)

	reqA := dataRecord(simA.ICCID, 100)
	reqA.RecordID = "shared-record-id"
	reqB := dataRecord(simB.ICCID, 200)
	reqB.RecordID = "shared-record-id"

	respA, err := svc.SubmitRecord(testCtx(orgA), reqA)
	require.NoError(t, err)
	respB, err := svc.SubmitRecord(testCtx(orgB), reqB)
	require.NoError(t, err)

	assert.False(t, respA.Duplicate)
	assert.False(t, respB.Duplicate, "record ids are scoped per organization")
}

func TestSubmitRecordUnmatchedICCID(t *testing.T) {
	svc, _, node := newTestService(t)
	orgID := node.Generate()

	resp, err := svc.SubmitRecord(testCtx(orgID), dataRecord("893108599999999999", 4096))
	require.NoError(t, err)
	assert.Equal(t, usagedomain.OutcomeUnmatched, resp.Record.Outcome)
	assert.False(t, resp.Record.Matched)
	assert.Nil(t, resp.Record.SimID)
	assert.Empty(t, resp.Record.CycleID)
}

func TestSubmitRecordTerminatedSimNotAccumulated(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	sim := seedSim(t, svc, db, orgID, "893108500000000105", simdomain.SimStateTerminated)

	resp, err := svc.SubmitRecord(testCtx(orgID), dataRecord(sim.ICCID, 9000))
	require.NoError(t, err)
	assert.Equal(t, usagedomain.OutcomeSimTerminated, resp.Record.Outcome)
	assert.True(t, resp.Record.Matched)

	_, err = svc.GetCycle(testCtx(orgID), usagedomain.GetCycleRequest{
		SimID:   sim.ID.String(),
		CycleID: "2026-03",
	})
	assert.ErrorIs(t, err, usagedomain.ErrCycleNotFound)
}

func TestSubmitRecordValidation(t *testing.T) {
	svc, _, node := newTestService(t)
	orgID := node.Generate()

	cases := []struct {
		name    string
		mutate  func(*usagedomain.SubmitRecordRequest)
		wantErr error
	}{
		{
			name:    "short iccid",
			mutate:  func(r *usagedomain.SubmitRecordRequest) { r.ICCID = "12345" },
			wantErr: usagedomain.ErrInvalidICCID,
		},
		{
			name:    "non numeric iccid",
			mutate:  func(r *usagedomain.SubmitRecordRequest) { r.ICCID = "89310850000000010x" },
			wantErr: usagedomain.ErrInvalidICCID,
		},
		{
			name:    "unknown usage type",
			mutate:  func(r *usagedomain.SubmitRecordRequest) { r.UsageType = "fax" },
			wantErr: usagedomain.ErrInvalidUsageType,
		},
		{
			name:    "zero quantity",
			mutate:  func(r *usagedomain.SubmitRecordRequest) { r.Quantity = 0 },
			wantErr: usagedomain.ErrInvalidQuantity,
		},
		{
			name:    "negative quantity",
			mutate:  func(r *usagedomain.SubmitRecordRequest) { r.Quantity = -5 },
			wantErr: usagedomain.ErrInvalidQuantity,
		},
		{
			name:    "negative download bytes",
			mutate:  func(r *usagedomain.SubmitRecordRequest) { r.DownloadBytes = -1 },
			wantErr: usagedomain.ErrInvalidQuantity,
		},
		{
			name:    "zero occurred_at",
			mutate:  func(r *usagedomain.SubmitRecordRequest) { r.OccurredAt = time.Time{} },
			wantErr: usagedomain.ErrInvalidOccurredAt,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := dataRecord("893108500000000106", 100)
			tc.mutate(&req)
			_, err := svc.SubmitRecord(testCtx(orgID), req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestSubmitRecordRequiresOrganization(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.SubmitRecord(context.Background(), dataRecord("893108500000000107", 100))
	assert.ErrorIs(t, err, usagedomain.ErrInvalidOrganization)
}

func TestSubmitBatchPartialResults(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	sim := seedSim(t, svc, db, orgID, "893108500000000108", simdomain.SimStateActive)

	good := dataRecord(sim.ICCID, 1000)
	good.RecordID = "batch-good"
	bad := dataRecord(sim.ICCID, 0)
	replay := dataRecord(sim.ICCID, 1000)
	replay.RecordID = "batch-good"

	resp, err := svc.SubmitBatch(testCtx(orgID), usagedomain.SubmitBatchRequest{
		Records: []usagedomain.SubmitRecordRequest{good, bad, replay},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Received)
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 1, resp.Duplicates)
	assert.Equal(t, 1, resp.Failed)

	require.Len(t, resp.Failures, 1)
	assert.Equal(t, 1, resp.Failures[0].Index)
	assert.Equal(t, usagedomain.ErrInvalidQuantity.Error(), resp.Failures[0].Cause)

	cycle, err := svc.GetCycle(testCtx(orgID), usagedomain.GetCycleRequest{
		SimID:   sim.ID.String(),
		CycleID: "2026-03",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), cycle.DataBytes)
}

func TestSubmitBatchSizeLimits(t *testing.T) {
	svc, _, node := newTestService(t)
	orgID := node.Generate()

	_, err := svc.SubmitBatch(testCtx(orgID), usagedomain.SubmitBatchRequest{})
	assert.ErrorIs(t, err, usagedomain.ErrEmptyBatch)

	oversized := make([]usagedomain.SubmitRecordRequest, usagedomain.MaxBatchSize+1)
	_, err = svc.SubmitBatch(testCtx(orgID), usagedomain.SubmitBatchRequest{Records: oversized})
	assert.ErrorIs(t, err, usagedomain.ErrBatchTooLarge)
}

func TestSubmitBatchCapsFailureList(t *testing.T) {
	svc, _, node := newTestService(t)
	orgID := node.Generate()

	bad := make([]usagedomain.SubmitRecordRequest, usagedomain.MaxBatchFailures+10)
	for i := range bad {
		bad[i] = dataRecord("893108500000000111", 0)
	}

	resp, err := svc.SubmitBatch(testCtx(orgID), usagedomain.SubmitBatchRequest{Records: bad})
	require.NoError(t, err)
	assert.Equal(t, len(bad), resp.Received)
	assert.Equal(t, len(bad), resp.Failed)
	require.Len(t, resp.Failures, usagedomain.MaxBatchFailures)
	assert.Equal(t, 0, resp.Failures[0].Index)
	assert.Equal(t, usagedomain.MaxBatchFailures-1, resp.Failures[len(resp.Failures)-1].Index)
}

func TestAccumulationAcrossTypesAndCycles(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	sim := seedSim(t, svc, db, orgID, "893108500000000109", simdomain.SimStateActive)

	submit := func(usageType usagedomain.UsageType, quantity int64, at time.Time) {
		t.Helper()
		_, err := svc.SubmitRecord(testCtx(orgID), usagedomain.SubmitRecordRequest{
			ICCID:      sim.ICCID,
			UsageType:  usageType,
			Quantity:   quantity,
			OccurredAt: at,
		})
		require.NoError(t, err)
	}

	march := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC)

	submit(usagedomain.UsageTypeData, 1500, march)
	submit(usagedomain.UsageTypeSMS, 3, march)
	submit(usagedomain.UsageTypeVoice, 120, march)
	submit(usagedomain.UsageTypeData, 700, april)

	marchCycle, err := svc.GetCycle(testCtx(orgID), usagedomain.GetCycleRequest{SimID: sim.ID.String(), CycleID: "2026-03"})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), marchCycle.DataBytes)
	assert.Equal(t, int64(3), marchCycle.SMSCount)
	assert.Equal(t, int64(120), marchCycle.VoiceSeconds)
	assert.Equal(t, int64(3), marchCycle.RecordCount)

	aprilCycle, err := svc.GetCycle(testCtx(orgID), usagedomain.GetCycleRequest{SimID: sim.ID.String(), CycleID: "2026-04"})
	require.NoError(t, err)
	assert.Equal(t, int64(700), aprilCycle.DataBytes)
	assert.Equal(t, int64(1), aprilCycle.RecordCount)
}

func TestListRecordsPagination(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	sim := seedSim(t, svc, db, orgID, "893108500000000110", simdomain.SimStateActive)

	for i := 0; i < 5; i++ {
		req := dataRecord(sim.ICCID, 100)
		req.RecordID = fmt.Sprintf("page-record-%d", i)
		_, err := svc.SubmitRecord(testCtx(orgID), req)
		require.NoError(t, err)
	}

	first, err := svc.ListRecords(testCtx(orgID), usagedomain.ListRecordRequest{
		Pagination: pagination.Pagination{PageSize: 3},
		SimID:      sim.ID.String(),
	})
	require.NoError(t, err)
	assert.Len(t, first.Records, 3)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.ListRecords(testCtx(orgID), usagedomain.ListRecordRequest{
		Pagination: pagination.Pagination{PageSize: 3, PageToken: first.NextPageToken},
		SimID:      sim.ID.String(),
	})
	require.NoError(t, err)
	assert.Len(t, second.Records, 2)
	assert.False(t, second.HasMore)

	seen := map[snowflake.ID]struct{}{}
	for _, r := range append(first.Records, second.Records...) {
		seen[r.ID] = struct{}{}
	}
	assert.Len(t, seen, 5)
}
