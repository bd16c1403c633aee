package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	labeldomain "github.com/airgate-io/airgate/internal/label/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) labeldomain.Repository {
	return &repo{genID: genID}
}

func (r *repo) ReplaceForSim(ctx context.Context, db *gorm.DB, orgID, simID snowflake.ID, labels map[string]string) error {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		if strings.TrimSpace(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := db.WithContext(ctx).
			Where("org_id = ? AND sim_id = ? AND label_key = ?", orgID, simID, strings.TrimSpace(key)).
			Delete(&labeldomain.SimLabel{}).Error; err != nil {
			return err
		}
		if err := db.WithContext(ctx).Create(&labeldomain.SimLabel{
			ID:         r.genID.Generate(),
			OrgID:      orgID,
			SimID:      simID,
			LabelKey:   strings.TrimSpace(key),
			LabelValue: strings.TrimSpace(labels[key]),
			CreatedAt:  time.Now().UTC(),
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListForSim(ctx context.Context, db *gorm.DB, orgID, simID snowflake.ID) ([]labeldomain.SimLabel, error) {
	var labels []labeldomain.SimLabel
	err := db.WithContext(ctx).
		Where("org_id = ? AND sim_id = ?", orgID, simID).
		Order("label_key asc").
		Find(&labels).Error
	return labels, err
}

func (r *repo) DeleteForSim(ctx context.Context, db *gorm.DB, orgID, simID snowflake.ID, key string) error {
	return db.WithContext(ctx).
		Where("org_id = ? AND sim_id = ? AND label_key = ?", orgID, simID, strings.TrimSpace(key)).
		Delete(&labeldomain.SimLabel{}).Error
}
