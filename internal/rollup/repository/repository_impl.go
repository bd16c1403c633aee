package repository

import (
	"context"
	"strings"

	rollupdomain "github.com/airgate-io/airgate/internal/rollup/domain"
	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() rollupdomain.Repository {
	return &repo{}
}

func (r *repo) ListUnfolded(ctx context.Context, db *gorm.DB, limit int) ([]*usagedomain.UsageRecord, error) {
	var records []*usagedomain.UsageRecord
	stmt := db.WithContext(ctx).
		Where("folded = ? AND outcome = ?", false, usagedomain.OutcomeAccumulated).
		Order("id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// UpsertBucket applies an additive delta so two folders racing on the
// same bucket cell both land their increments.
func (r *repo) UpsertBucket(ctx context.Context, db *gorm.DB, id snowflake.ID, delta rollupdomain.BucketDelta) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO rollup_buckets (
			id, org_id, sim_id, granularity, bucket_start, usage_type,
			total_quantity, record_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, sim_id, granularity, bucket_start, usage_type) DO UPDATE SET
			total_quantity = rollup_buckets.total_quantity + excluded.total_quantity,
			record_count = rollup_buckets.record_count + excluded.record_count,
			updated_at = excluded.updated_at`,
		id,
		delta.OrgID,
		delta.SimID,
		delta.Granularity,
		delta.BucketStart,
		delta.UsageType,
		delta.Quantity,
		delta.Records,
		delta.At,
		delta.At,
	).Error
}

func (r *repo) MarkFolded(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Model(&usagedomain.UsageRecord{}).
		Where("id IN ?", ids).
		Update("folded", true).Error
}

func (r *repo) TruncateBuckets(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).
		Where("1 = 1").
		Delete(&rollupdomain.RollupBucket{}).Error
}

func (r *repo) UnfoldAll(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Model(&usagedomain.UsageRecord{}).
		Where("folded = ?", true).
		Update("folded", false).Error
}

func (r *repo) ListBuckets(ctx context.Context, db *gorm.DB, filter rollupdomain.BucketFilter) ([]*rollupdomain.RollupBucket, error) {
	var buckets []*rollupdomain.RollupBucket
	stmt := db.WithContext(ctx).Model(&rollupdomain.RollupBucket{}).
		Where("org_id = ?", filter.OrgID)

	if filter.SimID != nil {
		stmt = stmt.Where("sim_id = ?", *filter.SimID)
	}
	if g := strings.TrimSpace(filter.Granularity); g != "" {
		stmt = stmt.Where("granularity = ?", g)
	}
	if usageType := strings.TrimSpace(filter.UsageType); usageType != "" {
		stmt = stmt.Where("usage_type = ?", usageType)
	}
	if !filter.From.IsZero() {
		stmt = stmt.Where("bucket_start >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		stmt = stmt.Where("bucket_start < ?", filter.To)
	}

	err := stmt.Order("bucket_start asc, usage_type asc").Find(&buckets).Error
	if err != nil {
		return nil, err
	}
	return buckets, nil
}
