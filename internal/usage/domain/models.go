// Package domain contains persistence models for usage mediation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageType names the meterable dimensions of SIM traffic.
type UsageType string

const (
	UsageTypeData  UsageType = "data"
	UsageTypeSMS   UsageType = "sms"
	UsageTypeVoice UsageType = "voice"
)

// IsValidUsageType reports whether the value names a known usage type.
func IsValidUsageType(t UsageType) bool {
	switch t {
	case UsageTypeData, UsageTypeSMS, UsageTypeVoice:
		return true
	default:
		return false
	}
}

// DefaultUnit returns the canonical unit for a usage type.
func DefaultUnit(t UsageType) string {
	switch t {
	case UsageTypeData:
		return "bytes"
	case UsageTypeSMS:
		return "messages"
	case UsageTypeVoice:
		return "seconds"
	default:
		return ""
	}
}

// Record outcomes. A record keeps the outcome it got on first accept;
// replays of the same record_id return it unchanged.
const (
	OutcomeAccumulated   = "accumulated"
	OutcomeUnmatched     = "unmatched"
	OutcomeSimTerminated = "sim_terminated"
)

// UsageRecord is one mediated usage event. record_id is the caller's
// dedupe handle, unique per organization. For data records Quantity is
// the authoritative total byte count; upload and download are kept as
// reported and need not sum to it, since some feeds report only totals.
type UsageRecord struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID      `gorm:"not null;index;uniqueIndex:idx_usage_records_org_record,priority:1" json:"org_id"`
	RecordID      string            `gorm:"type:text;not null;uniqueIndex:idx_usage_records_org_record,priority:2" json:"record_id"`
	SimID         *snowflake.ID     `gorm:"index" json:"sim_id,omitempty"`
	ICCID         string            `gorm:"column:iccid;type:text;not null" json:"iccid"`
	UsageType     UsageType         `gorm:"type:text;not null" json:"usage_type"`
	Quantity      int64             `gorm:"not null" json:"quantity"`
	UploadBytes   int64             `gorm:"not null;default:0" json:"upload_bytes,omitempty"`
	DownloadBytes int64             `gorm:"not null;default:0" json:"download_bytes,omitempty"`
	Unit          string            `gorm:"type:text" json:"unit"`
	CycleID       string            `gorm:"type:text" json:"cycle_id,omitempty"`
	Matched       bool              `gorm:"not null;default:false" json:"matched"`
	Folded        bool              `gorm:"not null;default:false" json:"-"`
	Outcome       string            `gorm:"type:text" json:"outcome"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	OccurredAt    time.Time         `gorm:"not null" json:"occurred_at"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// UsageCycle is the per-SIM accumulator for one billing cycle.
type UsageCycle struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID `gorm:"not null;index;uniqueIndex:idx_usage_cycles_org_sim_cycle,priority:1" json:"org_id"`
	SimID         snowflake.ID `gorm:"not null;index;uniqueIndex:idx_usage_cycles_org_sim_cycle,priority:2" json:"sim_id"`
	CycleID       string       `gorm:"type:text;not null;uniqueIndex:idx_usage_cycles_org_sim_cycle,priority:3" json:"cycle_id"`
	DataBytes     int64        `gorm:"not null;default:0" json:"data_bytes"`
	UploadBytes   int64        `gorm:"not null;default:0" json:"upload_bytes"`
	DownloadBytes int64        `gorm:"not null;default:0" json:"download_bytes"`
	SMSCount      int64        `gorm:"not null;default:0" json:"sms_count"`
	VoiceSeconds  int64        `gorm:"not null;default:0" json:"voice_seconds"`
	RecordCount   int64        `gorm:"not null;default:0" json:"record_count"`
	Closed        bool         `gorm:"not null;default:false" json:"closed"`
	StartedAt     time.Time    `gorm:"not null" json:"started_at"`
	EndsAt        time.Time    `gorm:"not null" json:"ends_at"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageCycle) TableName() string { return "usage_cycles" }

// CycleIDFor derives the calendar billing cycle for an event time.
func CycleIDFor(at time.Time) string {
	return at.UTC().Format("2006-01")
}

// CycleBounds returns the [start, end) window of the cycle containing at.
func CycleBounds(at time.Time) (time.Time, time.Time) {
	t := at.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
