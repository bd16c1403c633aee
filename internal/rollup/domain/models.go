// Package domain contains time-bucketed usage aggregates.
package domain

import (
	"time"

	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
)

// Granularities supported by the rollup folder.
const (
	GranularityHour = "hour"
	GranularityDay  = "day"
)

// IsValidGranularity reports whether the value names a known bucket size.
func IsValidGranularity(g string) bool {
	return g == GranularityHour || g == GranularityDay
}

// BucketStart truncates an event time to the start of its bucket in UTC.
func BucketStart(granularity string, at time.Time) time.Time {
	t := at.UTC()
	switch granularity {
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(time.Hour)
	}
}

// RollupBucket is one additive aggregate cell. Folding the same record
// twice is prevented upstream, so totals only ever grow by fresh usage.
type RollupBucket struct {
	ID            snowflake.ID          `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID          `gorm:"not null;index;uniqueIndex:idx_rollup_buckets_key,priority:1" json:"org_id"`
	SimID         snowflake.ID          `gorm:"not null;index;uniqueIndex:idx_rollup_buckets_key,priority:2" json:"sim_id"`
	Granularity   string                `gorm:"type:text;not null;uniqueIndex:idx_rollup_buckets_key,priority:3" json:"granularity"`
	BucketStart   time.Time             `gorm:"not null;uniqueIndex:idx_rollup_buckets_key,priority:4" json:"bucket_start"`
	UsageType     usagedomain.UsageType `gorm:"type:text;not null;uniqueIndex:idx_rollup_buckets_key,priority:5" json:"usage_type"`
	TotalQuantity int64                 `gorm:"not null;default:0" json:"total_quantity"`
	RecordCount   int64                 `gorm:"not null;default:0" json:"record_count"`
	CreatedAt     time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (RollupBucket) TableName() string { return "rollup_buckets" }
