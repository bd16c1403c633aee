package service

import (
	"context"
	"strings"

	labeldomain "github.com/airgate-io/airgate/internal/label/domain"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"github.com/airgate-io/airgate/internal/tenantctx"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo labeldomain.Repository
	Sims simdomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo labeldomain.Repository
	sims simdomain.Repository
}

func NewService(p Params) labeldomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("label.service"),
		repo: p.Repo,
		sims: p.Sims,
	}
}

func (s *Service) Set(ctx context.Context, simID string, labels map[string]string) ([]labeldomain.SimLabel, error) {
	orgID, id, err := s.resolveSim(ctx, simID)
	if err != nil {
		return nil, err
	}

	for key := range labels {
		if strings.TrimSpace(key) == "" {
			return nil, labeldomain.ErrInvalidLabelKey
		}
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.ReplaceForSim(ctx, tx, orgID, id, labels)
	}); err != nil {
		return nil, err
	}

	return s.repo.ListForSim(ctx, s.db, orgID, id)
}

func (s *Service) List(ctx context.Context, simID string) ([]labeldomain.SimLabel, error) {
	orgID, id, err := s.resolveSim(ctx, simID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListForSim(ctx, s.db, orgID, id)
}

func (s *Service) Delete(ctx context.Context, simID, key string) error {
	orgID, id, err := s.resolveSim(ctx, simID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return labeldomain.ErrInvalidLabelKey
	}
	return s.repo.DeleteForSim(ctx, s.db, orgID, id, key)
}

func (s *Service) resolveSim(ctx context.Context, simID string) (snowflake.ID, snowflake.ID, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, 0, labeldomain.ErrInvalidOrganization
	}

	id, err := snowflake.ParseString(strings.TrimSpace(simID))
	if err != nil || id == 0 {
		return 0, 0, labeldomain.ErrInvalidSim
	}

	sim, err := s.sims.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return 0, 0, err
	}
	if sim == nil {
		return 0, 0, simdomain.ErrSimNotFound
	}
	return orgID, id, nil
}
