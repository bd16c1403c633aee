package domain

import (
	"context"
	"time"

	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// BucketDelta is one additive increment against a bucket cell.
type BucketDelta struct {
	OrgID       snowflake.ID
	SimID       snowflake.ID
	Granularity string
	BucketStart time.Time
	UsageType   usagedomain.UsageType
	Quantity    int64
	Records     int64
	At          time.Time
}

type BucketFilter struct {
	OrgID       snowflake.ID
	SimID       *snowflake.ID
	Granularity string
	UsageType   string
	From        time.Time
	To          time.Time
}

type Repository interface {
	// ListUnfolded returns matched, accumulated records that have not
	// been folded into buckets yet, oldest insert first.
	ListUnfolded(ctx context.Context, db *gorm.DB, limit int) ([]*usagedomain.UsageRecord, error)
	UpsertBucket(ctx context.Context, db *gorm.DB, id snowflake.ID, delta BucketDelta) error
	MarkFolded(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error
	TruncateBuckets(ctx context.Context, db *gorm.DB) error
	UnfoldAll(ctx context.Context, db *gorm.DB) error
	ListBuckets(ctx context.Context, db *gorm.DB, filter BucketFilter) ([]*RollupBucket, error)
}
