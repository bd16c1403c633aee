package repository

import (
	"context"
	"errors"
	"strings"

	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() simdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sim *simdomain.Sim) error {
	return db.WithContext(ctx).Create(sim).Error
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *simdomain.SimEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*simdomain.Sim, error) {
	var sim simdomain.Sim
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&sim).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sim, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*simdomain.Sim, error) {
	var sim simdomain.Sim
	stmt := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id)
	// sqlite has no row locks; its single writer gives the same guarantee.
	if db.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.First(&sim).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sim, nil
}

func (r *repo) FindByICCID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, iccid string) (*simdomain.Sim, error) {
	var sim simdomain.Sim
	err := db.WithContext(ctx).
		Where("org_id = ? AND iccid = ?", orgID, strings.TrimSpace(iccid)).
		First(&sim).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sim, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter simdomain.ListFilter) ([]*simdomain.Sim, error) {
	var sims []*simdomain.Sim
	stmt := db.WithContext(ctx).Model(&simdomain.Sim{}).
		Where("sims.org_id = ?", filter.OrgID)

	if filter.State != "" {
		stmt = stmt.Where("sims.state = ?", filter.State)
	}
	if key := strings.TrimSpace(filter.LabelKey); key != "" {
		stmt = stmt.Joins("JOIN sim_labels ON sim_labels.sim_id = sims.id AND sim_labels.org_id = sims.org_id").
			Where("sim_labels.label_key = ?", key)
		if val := strings.TrimSpace(filter.LabelVal); val != "" {
			stmt = stmt.Where("sim_labels.label_value = ?", val)
		}
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("sims.id > ?", *filter.Cursor)
	}

	stmt = stmt.Order("sims.id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&sims).Error; err != nil {
		return nil, err
	}
	return sims, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, sim *simdomain.Sim) error {
	return db.WithContext(ctx).Model(&simdomain.Sim{}).
		Where("org_id = ? AND id = ?", sim.OrgID, sim.ID).
		Updates(map[string]any{
			"state":         sim.State,
			"prior_state":   sim.PriorState,
			"activated_at":  sim.ActivatedAt,
			"terminated_at": sim.TerminatedAt,
			"updated_at":    sim.UpdatedAt,
		}).Error
}
