package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/airgate-io/airgate/internal/cache"
	"github.com/airgate-io/airgate/internal/clock"
	obsmetrics "github.com/airgate-io/airgate/internal/observability/metrics"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"github.com/airgate-io/airgate/internal/tenantctx"
	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	"github.com/airgate-io/airgate/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     usagedomain.Repository
	SimRepo  simdomain.Repository
	Resolver cache.SimResolverCache `optional:"true"`
	Metrics  *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     usagedomain.Repository
	simRepo  simdomain.Repository
	resolver cache.SimResolverCache
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("usage.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		simRepo:  p.SimRepo,
		resolver: p.Resolver,
		metrics:  p.Metrics,
	}
}

func (s *Service) SubmitRecord(ctx context.Context, req usagedomain.SubmitRecordRequest) (usagedomain.SubmitRecordResponse, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok {
		return usagedomain.SubmitRecordResponse{}, usagedomain.ErrInvalidOrganization
	}

	normalized, err := s.normalizeRequest(req)
	if err != nil {
		return usagedomain.SubmitRecordResponse{}, err
	}

	// Dedupe first. A replayed record_id returns the stored record with
	// its original outcome and never touches the accumulators again.
	if existing, err := s.repo.FindByRecordID(ctx, s.db, orgID, normalized.RecordID); err != nil {
		return usagedomain.SubmitRecordResponse{}, err
	} else if existing != nil {
		s.metrics.RecordUsageDuplicate(ctx, string(existing.UsageType))
		return usagedomain.SubmitRecordResponse{Record: *existing, Duplicate: true}, nil
	}

	sim, err := s.resolveSim(ctx, orgID, normalized.ICCID)
	if err != nil {
		return usagedomain.SubmitRecordResponse{}, err
	}

	now := s.clock.Now()
	record := &usagedomain.UsageRecord{
		ID:            s.genID.Generate(),
		OrgID:         orgID,
		RecordID:      normalized.RecordID,
		ICCID:         normalized.ICCID,
		UsageType:     normalized.UsageType,
		Quantity:      normalized.Quantity,
		UploadBytes:   normalized.UploadBytes,
		DownloadBytes: normalized.DownloadBytes,
		Unit:          normalized.Unit,
		OccurredAt:    normalized.OccurredAt,
		CreatedAt:     now,
	}
	if len(normalized.Metadata) > 0 {
		record.Metadata = datatypes.JSONMap(normalized.Metadata)
	}

	switch {
	case sim == nil:
		record.Outcome = usagedomain.OutcomeUnmatched
	case sim.State == simdomain.SimStateTerminated:
		record.SimID = &sim.ID
		record.Matched = true
		record.Outcome = usagedomain.OutcomeSimTerminated
	default:
		record.SimID = &sim.ID
		record.Matched = true
		record.CycleID = usagedomain.CycleIDFor(normalized.OccurredAt)
		record.Outcome = usagedomain.OutcomeAccumulated
	}

	inserted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		inserted, txErr = s.repo.InsertRecord(ctx, tx, record)
		if txErr != nil {
			return txErr
		}
		if !inserted || record.Outcome != usagedomain.OutcomeAccumulated {
			return nil
		}
		return s.repo.AccumulateCycle(ctx, tx, s.genID.Generate(), s.cycleDelta(record))
	})
	if err != nil {
		return usagedomain.SubmitRecordResponse{}, err
	}

	if !inserted {
		// Lost the insert race to a concurrent replay. The winner's row
		// is authoritative.
		existing, err := s.repo.FindByRecordID(ctx, s.db, orgID, normalized.RecordID)
		if err != nil {
			return usagedomain.SubmitRecordResponse{}, err
		}
		if existing == nil {
			return usagedomain.SubmitRecordResponse{}, fmt.Errorf("usage record %s vanished after conflict", normalized.RecordID)
		}
		s.metrics.RecordUsageDuplicate(ctx, string(existing.UsageType))
		return usagedomain.SubmitRecordResponse{Record: *existing, Duplicate: true}, nil
	}

	s.metrics.RecordUsageRecord(ctx, string(record.UsageType), record.Outcome)
	if record.Outcome != usagedomain.OutcomeAccumulated {
		s.log.Debug("usage record stored without accumulation",
			zap.String("org_id", orgID.String()),
			zap.String("record_id", record.RecordID),
			zap.String("outcome", record.Outcome))
	}
	return usagedomain.SubmitRecordResponse{Record: *record}, nil
}

func (s *Service) SubmitBatch(ctx context.Context, req usagedomain.SubmitBatchRequest) (usagedomain.SubmitBatchResponse, error) {
	if _, ok := tenantctx.OrgIDFromContext(ctx); !ok {
		return usagedomain.SubmitBatchResponse{}, usagedomain.ErrInvalidOrganization
	}
	if len(req.Records) == 0 {
		return usagedomain.SubmitBatchResponse{}, usagedomain.ErrEmptyBatch
	}
	if len(req.Records) > usagedomain.MaxBatchSize {
		return usagedomain.SubmitBatchResponse{}, usagedomain.ErrBatchTooLarge
	}

	resp := usagedomain.SubmitBatchResponse{Received: len(req.Records)}
	for i, entry := range req.Records {
		single, err := s.SubmitRecord(ctx, entry)
		if err != nil {
			resp.Failed++
			if len(resp.Failures) < usagedomain.MaxBatchFailures {
				resp.Failures = append(resp.Failures, usagedomain.BatchFailure{
					Index:    i,
					RecordID: strings.TrimSpace(entry.RecordID),
					Cause:    err.Error(),
				})
			}
			continue
		}
		resp.Accepted++
		if single.Duplicate {
			resp.Duplicates++
		}
	}
	return resp, nil
}

func (s *Service) GetCycle(ctx context.Context, req usagedomain.GetCycleRequest) (usagedomain.UsageCycle, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok {
		return usagedomain.UsageCycle{}, usagedomain.ErrInvalidOrganization
	}

	simID, err := snowflake.ParseString(strings.TrimSpace(req.SimID))
	if err != nil {
		return usagedomain.UsageCycle{}, usagedomain.ErrInvalidSim
	}

	cycleID := strings.TrimSpace(req.CycleID)
	if cycleID == "" {
		cycleID = usagedomain.CycleIDFor(s.clock.Now())
	}

	cycle, err := s.repo.FindCycle(ctx, s.db, orgID, simID, cycleID)
	if err != nil {
		return usagedomain.UsageCycle{}, err
	}
	if cycle == nil {
		return usagedomain.UsageCycle{}, usagedomain.ErrCycleNotFound
	}
	return *cycle, nil
}

func (s *Service) ListRecords(ctx context.Context, req usagedomain.ListRecordRequest) (usagedomain.ListRecordResponse, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok {
		return usagedomain.ListRecordResponse{}, usagedomain.ErrInvalidOrganization
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}

	filter := usagedomain.RecordFilter{
		OrgID:   orgID,
		CycleID: req.CycleID,
		Matched: req.Matched,
		Limit:   pageSize,
	}
	if simID := strings.TrimSpace(req.SimID); simID != "" {
		parsed, err := snowflake.ParseString(simID)
		if err != nil {
			return usagedomain.ListRecordResponse{}, usagedomain.ErrInvalidSim
		}
		filter.SimID = &parsed
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return usagedomain.ListRecordResponse{}, usagedomain.ErrInvalidPageToken
		}
		lastID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return usagedomain.ListRecordResponse{}, usagedomain.ErrInvalidPageToken
		}
		filter.Cursor = &lastID
	}

	rows, err := s.repo.ListRecords(ctx, s.db, filter)
	if err != nil {
		return usagedomain.ListRecordResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(pageSize), func(r *usagedomain.UsageRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: r.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if len(rows) > pageSize {
		rows = rows[:pageSize]
	}

	records := make([]usagedomain.UsageRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, *row)
	}
	return usagedomain.ListRecordResponse{PageInfo: *pageInfo, Records: records}, nil
}

// resolveSim looks the SIM up through the ingest cache, falling back to
// the database on a miss. A nil SIM means the ICCID is unknown to the
// organization.
func (s *Service) resolveSim(ctx context.Context, orgID snowflake.ID, iccid string) (*simdomain.Sim, error) {
	if s.resolver != nil {
		if cached, ok := s.resolver.GetSim(orgID.String(), iccid); ok {
			return &cached, nil
		}
	}
	sim, err := s.simRepo.FindByICCID(ctx, s.db, orgID, iccid)
	if err != nil {
		return nil, err
	}
	if sim != nil && s.resolver != nil {
		s.resolver.SetSim(orgID.String(), iccid, *sim)
	}
	return sim, nil
}

func (s *Service) normalizeRequest(req usagedomain.SubmitRecordRequest) (usagedomain.SubmitRecordRequest, error) {
	req.ICCID = strings.TrimSpace(req.ICCID)
	if !isValidICCID(req.ICCID) {
		return req, usagedomain.ErrInvalidICCID
	}
	if !usagedomain.IsValidUsageType(req.UsageType) {
		return req, usagedomain.ErrInvalidUsageType
	}
	if req.Quantity <= 0 {
		return req, usagedomain.ErrInvalidQuantity
	}
	if req.UploadBytes < 0 || req.DownloadBytes < 0 {
		return req, usagedomain.ErrInvalidQuantity
	}
	if req.UsageType != usagedomain.UsageTypeData {
		// Direction counters only make sense for data records.
		req.UploadBytes = 0
		req.DownloadBytes = 0
	}
	if req.OccurredAt.IsZero() || req.OccurredAt.After(s.clock.Now().Add(24*time.Hour)) {
		return req, usagedomain.ErrInvalidOccurredAt
	}
	req.OccurredAt = req.OccurredAt.UTC()

	req.RecordID = strings.TrimSpace(req.RecordID)
	if req.RecordID == "" {
		// Server-side ids must be unguessable so a caller cannot collide
		// with a record it did not submit.
		req.RecordID = uuid.NewString()
	} else if len(req.RecordID) > 128 {
		return req, usagedomain.ErrInvalidRecordID
	}

	if strings.TrimSpace(req.Unit) == "" {
		req.Unit = usagedomain.DefaultUnit(req.UsageType)
	}
	return req, nil
}

func (s *Service) cycleDelta(record *usagedomain.UsageRecord) usagedomain.CycleDelta {
	started, ends := usagedomain.CycleBounds(record.OccurredAt)
	delta := usagedomain.CycleDelta{
		OrgID:     record.OrgID,
		SimID:     *record.SimID,
		CycleID:   record.CycleID,
		StartedAt: started,
		EndsAt:    ends,
		At:        s.clock.Now(),
	}
	switch record.UsageType {
	case usagedomain.UsageTypeData:
		delta.DataBytes = record.Quantity
		delta.UploadBytes = record.UploadBytes
		delta.DownloadBytes = record.DownloadBytes
	case usagedomain.UsageTypeSMS:
		delta.SMSCount = record.Quantity
	case usagedomain.UsageTypeVoice:
		delta.VoiceSeconds = record.Quantity
	}
	return delta
}

func isValidICCID(iccid string) bool {
	if len(iccid) < 18 || len(iccid) > 20 {
		return false
	}
	for _, r := range iccid {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
