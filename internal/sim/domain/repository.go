package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	OrgID    snowflake.ID
	State    SimState
	LabelKey string
	LabelVal string
	Cursor   *snowflake.ID
	Limit    int
}

// LabelWriter lets SIM creation attach labels inside its transaction
// without depending on the label package.
type LabelWriter interface {
	ReplaceForSim(ctx context.Context, db *gorm.DB, orgID, simID snowflake.ID, labels map[string]string) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sim *Sim) error
	InsertEvent(ctx context.Context, db *gorm.DB, event *SimEvent) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Sim, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Sim, error)
	FindByICCID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, iccid string) (*Sim, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Sim, error)
	UpdateLifecycle(ctx context.Context, db *gorm.DB, sim *Sim) error
}
