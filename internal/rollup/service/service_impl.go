package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/airgate-io/airgate/internal/clock"
	"github.com/airgate-io/airgate/internal/config"
	obsmetrics "github.com/airgate-io/airgate/internal/observability/metrics"
	rollupdomain "github.com/airgate-io/airgate/internal/rollup/domain"
	"github.com/airgate-io/airgate/internal/tenantctx"
	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    rollupdomain.Repository
	Holder  *config.MediationConfigHolder `optional:"true"`
	Metrics *obsmetrics.Metrics           `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    rollupdomain.Repository
	holder  *config.MediationConfigHolder
	metrics *obsmetrics.Metrics
}

func NewService(p Params) rollupdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("rollup.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		holder:  p.Holder,
		metrics: p.Metrics,
	}
}

type bucketKey struct {
	orgID       snowflake.ID
	simID       snowflake.ID
	granularity string
	bucketStart int64
	usageType   usagedomain.UsageType
}

func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	cfg := s.mediationConfig()

	folded := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		records, err := s.repo.ListUnfolded(ctx, tx, cfg.RollupBatchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		deltas := make(map[bucketKey]*rollupdomain.BucketDelta, len(records))
		ids := make([]snowflake.ID, 0, len(records))
		now := s.clock.Now()

		for _, record := range records {
			if record.SimID == nil {
				// Accumulated records always carry a SIM. Skip rather
				// than stall the whole backlog on one bad row.
				s.log.Warn("skipping unfolded record without sim",
					zap.String("record_id", record.RecordID))
				ids = append(ids, record.ID)
				continue
			}
			for _, granularity := range cfg.RollupGranularities {
				start := rollupdomain.BucketStart(granularity, record.OccurredAt)
				key := bucketKey{
					orgID:       record.OrgID,
					simID:       *record.SimID,
					granularity: granularity,
					bucketStart: start.Unix(),
					usageType:   record.UsageType,
				}
				delta, ok := deltas[key]
				if !ok {
					delta = &rollupdomain.BucketDelta{
						OrgID:       record.OrgID,
						SimID:       *record.SimID,
						Granularity: granularity,
						BucketStart: start,
						UsageType:   record.UsageType,
						At:          now,
					}
					deltas[key] = delta
				}
				delta.Quantity += record.Quantity
				delta.Records++
			}
			ids = append(ids, record.ID)
		}

		for _, delta := range deltas {
			if err := s.repo.UpsertBucket(ctx, tx, s.genID.Generate(), *delta); err != nil {
				return err
			}
		}
		if err := s.repo.MarkFolded(ctx, tx, ids); err != nil {
			return err
		}
		folded = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if folded > 0 {
		for _, granularity := range cfg.RollupGranularities {
			s.metrics.RecordRollupFold(ctx, granularity, int64(folded))
		}
		s.log.Info("folded usage records into rollup buckets",
			zap.Int("count", folded))
	}
	return folded, nil
}

func (s *Service) Rebuild(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.TruncateBuckets(ctx, tx); err != nil {
			return err
		}
		return s.repo.UnfoldAll(ctx, tx)
	})
	if err != nil {
		return err
	}
	s.log.Info("rollup buckets truncated, replaying records")

	for {
		folded, err := s.ProcessPending(ctx)
		if err != nil {
			return err
		}
		if folded == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rollup rebuild interrupted: %w", err)
		}
	}
}

func (s *Service) Query(ctx context.Context, req rollupdomain.QueryRequest) (rollupdomain.QueryResponse, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok {
		return rollupdomain.QueryResponse{}, rollupdomain.ErrInvalidOrganization
	}

	granularity := strings.TrimSpace(req.Granularity)
	if granularity == "" {
		granularity = rollupdomain.GranularityHour
	}
	if !rollupdomain.IsValidGranularity(granularity) {
		return rollupdomain.QueryResponse{}, rollupdomain.ErrInvalidGranularity
	}
	if !req.From.IsZero() && !req.To.IsZero() && !req.From.Before(req.To) {
		return rollupdomain.QueryResponse{}, rollupdomain.ErrInvalidTimeRange
	}

	filter := rollupdomain.BucketFilter{
		OrgID:       orgID,
		Granularity: granularity,
		UsageType:   req.UsageType,
		From:        req.From.UTC(),
		To:          req.To.UTC(),
	}
	if req.From.IsZero() {
		filter.From = time.Time{}
	}
	if req.To.IsZero() {
		filter.To = time.Time{}
	}
	if simID := strings.TrimSpace(req.SimID); simID != "" {
		parsed, err := snowflake.ParseString(simID)
		if err != nil {
			return rollupdomain.QueryResponse{}, rollupdomain.ErrInvalidSim
		}
		filter.SimID = &parsed
	}

	rows, err := s.repo.ListBuckets(ctx, s.db, filter)
	if err != nil {
		return rollupdomain.QueryResponse{}, err
	}

	buckets := make([]rollupdomain.RollupBucket, 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, *row)
	}
	return rollupdomain.QueryResponse{Buckets: buckets}, nil
}

func (s *Service) mediationConfig() config.MediationConfig {
	if s.holder != nil {
		return s.holder.Get()
	}
	return config.DefaultMediationConfig()
}
