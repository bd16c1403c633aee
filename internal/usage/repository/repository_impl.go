package repository

import (
	"context"
	"errors"
	"strings"

	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) InsertRecord(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) (bool, error) {
	if record == nil {
		return false, errors.New("missing_usage_record")
	}
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		return r.insertRecordSQLite(ctx, db, record)
	}

	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "record_id"}},
		DoNothing: true,
	}).Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// sqlite needs the conflict target spelled out in raw SQL because gorm's
// clause builder targets the postgres syntax for partial indexes.
func (r *repo) insertRecordSQLite(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) (bool, error) {
	var simIDValue any
	if record.SimID != nil {
		simIDValue = *record.SimID
	}
	result := db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (
			id, org_id, record_id, sim_id, iccid, usage_type, quantity,
			upload_bytes, download_bytes, unit,
			cycle_id, matched, folded, outcome, metadata, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, record_id) DO NOTHING`,
		record.ID,
		record.OrgID,
		record.RecordID,
		simIDValue,
		record.ICCID,
		record.UsageType,
		record.Quantity,
		record.UploadBytes,
		record.DownloadBytes,
		record.Unit,
		record.CycleID,
		record.Matched,
		record.Folded,
		record.Outcome,
		record.Metadata,
		record.OccurredAt,
		record.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByRecordID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, recordID string) (*usagedomain.UsageRecord, error) {
	var record usagedomain.UsageRecord
	err := db.WithContext(ctx).
		Where("org_id = ? AND record_id = ?", orgID, recordID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// AccumulateCycle increments the cycle accumulator in a single upsert so
// concurrent submitters never lose an increment to a read-modify-write
// race. The same statement is valid on postgres and sqlite.
func (r *repo) AccumulateCycle(ctx context.Context, db *gorm.DB, id snowflake.ID, delta usagedomain.CycleDelta) error {
	recordIncrement := int64(0)
	if delta.DataBytes != 0 || delta.SMSCount != 0 || delta.VoiceSeconds != 0 {
		recordIncrement = 1
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_cycles (
			id, org_id, sim_id, cycle_id, data_bytes, upload_bytes, download_bytes,
			sms_count, voice_seconds,
			record_count, closed, started_at, ends_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, sim_id, cycle_id) DO UPDATE SET
			data_bytes = usage_cycles.data_bytes + excluded.data_bytes,
			upload_bytes = usage_cycles.upload_bytes + excluded.upload_bytes,
			download_bytes = usage_cycles.download_bytes + excluded.download_bytes,
			sms_count = usage_cycles.sms_count + excluded.sms_count,
			voice_seconds = usage_cycles.voice_seconds + excluded.voice_seconds,
			record_count = usage_cycles.record_count + excluded.record_count,
			updated_at = excluded.updated_at`,
		id,
		delta.OrgID,
		delta.SimID,
		delta.CycleID,
		delta.DataBytes,
		delta.UploadBytes,
		delta.DownloadBytes,
		delta.SMSCount,
		delta.VoiceSeconds,
		recordIncrement,
		false,
		delta.StartedAt,
		delta.EndsAt,
		delta.At,
		delta.At,
	).Error
}

func (r *repo) FindCycle(ctx context.Context, db *gorm.DB, orgID, simID snowflake.ID, cycleID string) (*usagedomain.UsageCycle, error) {
	var cycle usagedomain.UsageCycle
	err := db.WithContext(ctx).
		Where("org_id = ? AND sim_id = ? AND cycle_id = ?", orgID, simID, cycleID).
		First(&cycle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cycle, nil
}

func (r *repo) ListRecords(ctx context.Context, db *gorm.DB, filter usagedomain.RecordFilter) ([]*usagedomain.UsageRecord, error) {
	var records []*usagedomain.UsageRecord
	stmt := db.WithContext(ctx).Model(&usagedomain.UsageRecord{}).
		Where("org_id = ?", filter.OrgID)

	if filter.SimID != nil {
		stmt = stmt.Where("sim_id = ?", *filter.SimID)
	}
	if cycleID := strings.TrimSpace(filter.CycleID); cycleID != "" {
		stmt = stmt.Where("cycle_id = ?", cycleID)
	}
	if filter.Matched != nil {
		stmt = stmt.Where("matched = ?", *filter.Matched)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("id > ?", *filter.Cursor)
	}

	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
