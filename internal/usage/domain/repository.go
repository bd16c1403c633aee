package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CycleDelta is one accumulator increment, applied atomically in SQL.
type CycleDelta struct {
	OrgID         snowflake.ID
	SimID         snowflake.ID
	CycleID       string
	DataBytes     int64
	UploadBytes   int64
	DownloadBytes int64
	SMSCount      int64
	VoiceSeconds  int64
	StartedAt     time.Time
	EndsAt        time.Time
	At            time.Time
}

type RecordFilter struct {
	OrgID   snowflake.ID
	SimID   *snowflake.ID
	CycleID string
	Matched *bool
	Cursor  *snowflake.ID
	Limit   int
}

type Repository interface {
	// InsertRecord writes the record unless its (org_id, record_id)
	// already exists. Returns whether a row was inserted.
	InsertRecord(ctx context.Context, db *gorm.DB, record *UsageRecord) (bool, error)
	FindByRecordID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, recordID string) (*UsageRecord, error)
	AccumulateCycle(ctx context.Context, db *gorm.DB, id snowflake.ID, delta CycleDelta) error
	FindCycle(ctx context.Context, db *gorm.DB, orgID, simID snowflake.ID, cycleID string) (*UsageCycle, error)
	ListRecords(ctx context.Context, db *gorm.DB, filter RecordFilter) ([]*UsageRecord, error)
}
