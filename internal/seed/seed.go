// Package seed provisions demo data for local development.
package seed

import (
	"context"
	"errors"
	"time"

	labeldomain "github.com/airgate-io/airgate/internal/label/domain"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	webhookdomain "github.com/airgate-io/airgate/internal/webhook/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DemoOrgID is the tenant id the demo fleet lives under. Pass it in the
// X-Org-ID header to poke the API without provisioning anything first.
const DemoOrgID snowflake.ID = 7000000000000000001

var demoSims = []struct {
	iccid  string
	state  simdomain.SimState
	labels map[string]string
}{
	{"8944500000000000011", simdomain.SimStateActive, map[string]string{"fleet": "trucks", "region": "eu-west"}},
	{"8944500000000000029", simdomain.SimStateActive, map[string]string{"fleet": "trucks", "region": "eu-north"}},
	{"8944500000000000037", simdomain.SimStateProvisioned, map[string]string{"fleet": "meters"}},
	{"8944500000000000045", simdomain.SimStateSuspended, map[string]string{"fleet": "meters"}},
}

// EnsureDemoData seeds a small SIM fleet and a disabled webhook
// subscriber under DemoOrgID. Safe to run on every startup.
func EnsureDemoData(db *gorm.DB, genID *snowflake.Node) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if genID == nil {
		return errors.New("seed id generator is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&simdomain.Sim{}).Where("org_id = ?", DemoOrgID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		now := time.Now().UTC()
		for _, demo := range demoSims {
			sim := simdomain.Sim{
				ID:        genID.Generate(),
				OrgID:     DemoOrgID,
				ICCID:     demo.iccid,
				State:     demo.state,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if demo.state != simdomain.SimStateProvisioned {
				activated := now
				sim.ActivatedAt = &activated
			}
			if err := tx.Create(&sim).Error; err != nil {
				return err
			}

			event := simdomain.SimEvent{
				ID:         genID.Generate(),
				OrgID:      DemoOrgID,
				SimID:      sim.ID,
				EventType:  simdomain.EventSimProvisioned,
				ToState:    simdomain.SimStateProvisioned,
				ActorType:  "system",
				ActorID:    "seed",
				Published:  true,
				OccurredAt: now,
				CreatedAt:  now,
			}
			if err := tx.Create(&event).Error; err != nil {
				return err
			}

			for key, value := range demo.labels {
				label := labeldomain.SimLabel{
					ID:         genID.Generate(),
					OrgID:      DemoOrgID,
					SimID:      sim.ID,
					LabelKey:   key,
					LabelValue: value,
					CreatedAt:  now,
				}
				if err := tx.Create(&label).Error; err != nil {
					return err
				}
			}
		}

		// Inactive on purpose: a live endpoint nobody controls would
		// sit in the retry queue until its attempts run out.
		subscriber := webhookdomain.Subscriber{
			ID:        genID.Generate(),
			OrgID:     DemoOrgID,
			URL:       "https://webhooks.example.com/airgate",
			Secret:    uuid.NewString(),
			Active:    false,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Create(&subscriber).Error
	})
}
