// Package domain contains persistence models for SIM labels.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// SimLabel is a free-form key/value tag on a SIM, used for fleet
// grouping and list filtering.
type SimLabel struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null;index;uniqueIndex:idx_sim_labels_key,priority:1" json:"org_id"`
	SimID      snowflake.ID `gorm:"not null;index;uniqueIndex:idx_sim_labels_key,priority:2" json:"sim_id"`
	LabelKey   string       `gorm:"type:text;not null;uniqueIndex:idx_sim_labels_key,priority:3" json:"key"`
	LabelValue string       `gorm:"type:text" json:"value"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (SimLabel) TableName() string { return "sim_labels" }

type Repository interface {
	ReplaceForSim(ctx context.Context, db *gorm.DB, orgID, simID snowflake.ID, labels map[string]string) error
	ListForSim(ctx context.Context, db *gorm.DB, orgID, simID snowflake.ID) ([]SimLabel, error)
	DeleteForSim(ctx context.Context, db *gorm.DB, orgID, simID snowflake.ID, key string) error
}

type Service interface {
	Set(ctx context.Context, simID string, labels map[string]string) ([]SimLabel, error)
	List(ctx context.Context, simID string) ([]SimLabel, error)
	Delete(ctx context.Context, simID, key string) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSim          = errors.New("invalid_sim")
	ErrInvalidLabelKey     = errors.New("invalid_label_key")
)
