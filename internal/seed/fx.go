package seed

import (
	"github.com/airgate-io/airgate/internal/config"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, db *gorm.DB, genID *snowflake.Node, log *zap.Logger) error {
		if !cfg.SeedDemoData {
			return nil
		}
		log.Info("seeding demo data", zap.String("org_id", DemoOrgID.String()))
		return EnsureDemoData(db, genID)
	}),
)
