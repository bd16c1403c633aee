package service

import (
	"context"
	"strings"

	auditdomain "github.com/airgate-io/airgate/internal/audit/domain"
	"github.com/airgate-io/airgate/internal/audit/masking"
	"github.com/airgate-io/airgate/internal/cache"
	"github.com/airgate-io/airgate/internal/clock"
	obsmetrics "github.com/airgate-io/airgate/internal/observability/metrics"
	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"github.com/airgate-io/airgate/internal/tenantctx"
	"github.com/airgate-io/airgate/pkg/db"
	"github.com/airgate-io/airgate/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     simdomain.Repository
	Labels   simdomain.LabelWriter  `optional:"true"`
	Audit    auditdomain.Service    `optional:"true"`
	Metrics  *obsmetrics.Metrics    `optional:"true"`
	Resolver cache.SimResolverCache `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     simdomain.Repository
	labels   simdomain.LabelWriter
	audit    auditdomain.Service
	metrics  *obsmetrics.Metrics
	resolver cache.SimResolverCache
}

func NewService(p Params) simdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("sim.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		labels:   p.Labels,
		audit:    p.Audit,
		metrics:  p.Metrics,
		resolver: p.Resolver,
	}
}

func (s *Service) Create(ctx context.Context, req simdomain.CreateSimRequest) (simdomain.Sim, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return simdomain.Sim{}, simdomain.ErrInvalidOrganization
	}

	iccid := strings.TrimSpace(req.ICCID)
	if !isValidICCID(iccid) {
		return simdomain.Sim{}, simdomain.ErrInvalidICCID
	}

	existing, err := s.repo.FindByICCID(ctx, s.db, orgID, iccid)
	if err != nil {
		return simdomain.Sim{}, err
	}
	if existing != nil {
		return simdomain.Sim{}, simdomain.ErrDuplicateICCID
	}

	now := s.clock.Now()
	sim := simdomain.Sim{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		ICCID:     iccid,
		IMSI:      strings.TrimSpace(req.IMSI),
		MSISDN:    strings.TrimSpace(req.MSISDN),
		State:     simdomain.SimStateProvisioned,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &sim); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return simdomain.ErrDuplicateICCID
			}
			return err
		}
		if err := s.repo.InsertEvent(ctx, tx, s.newEvent(ctx, &sim, "", simdomain.SimStateProvisioned, simdomain.EventSimProvisioned, "", "")); err != nil {
			return err
		}
		if s.labels != nil && len(req.Labels) > 0 {
			if err := s.labels.ReplaceForSim(ctx, tx, orgID, sim.ID, req.Labels); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return simdomain.Sim{}, err
	}

	s.auditAction(ctx, orgID, "sim.create", sim.ID, map[string]any{
		"iccid": masking.MaskICCID(sim.ICCID),
	})

	if req.Activate {
		return s.Transition(ctx, simdomain.TransitionRequest{
			SimID:  sim.ID.String(),
			Target: simdomain.SimStateActive,
			Reason: "activate_on_create",
		})
	}

	return sim, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (simdomain.Sim, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return simdomain.Sim{}, simdomain.ErrInvalidOrganization
	}

	simID, err := s.parseID(id)
	if err != nil {
		return simdomain.Sim{}, err
	}

	sim, err := s.repo.FindByID(ctx, s.db, orgID, simID)
	if err != nil {
		return simdomain.Sim{}, err
	}
	if sim == nil {
		return simdomain.Sim{}, simdomain.ErrSimNotFound
	}
	return *sim, nil
}

func (s *Service) GetByICCID(ctx context.Context, iccid string) (simdomain.Sim, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return simdomain.Sim{}, simdomain.ErrInvalidOrganization
	}

	sim, err := s.repo.FindByICCID(ctx, s.db, orgID, strings.TrimSpace(iccid))
	if err != nil {
		return simdomain.Sim{}, err
	}
	if sim == nil {
		return simdomain.Sim{}, simdomain.ErrSimNotFound
	}
	return *sim, nil
}

func (s *Service) List(ctx context.Context, req simdomain.ListSimRequest) (simdomain.ListSimResponse, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return simdomain.ListSimResponse{}, simdomain.ErrInvalidOrganization
	}

	state := simdomain.SimState(strings.TrimSpace(req.State))
	if state != "" && !simdomain.IsValidState(state) {
		return simdomain.ListSimResponse{}, simdomain.ErrInvalidTargetState
	}

	var cursor *snowflake.ID
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return simdomain.ListSimResponse{}, simdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return simdomain.ListSimResponse{}, simdomain.ErrInvalidPageToken
		}
		cursor = &id
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, simdomain.ListFilter{
		OrgID:    orgID,
		State:    state,
		LabelKey: req.LabelKey,
		LabelVal: req.LabelVal,
		Cursor:   cursor,
		Limit:    pageSize,
	})
	if err != nil {
		return simdomain.ListSimResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *simdomain.Sim) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	sims := make([]simdomain.Sim, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		sims = append(sims, *item)
	}

	resp := simdomain.ListSimResponse{Sims: sims}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Transition moves a SIM to the target state. Repeating the current
// state is a no-op so retried calls stay safe.
func (s *Service) Transition(ctx context.Context, req simdomain.TransitionRequest) (simdomain.Sim, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return simdomain.Sim{}, simdomain.ErrInvalidOrganization
	}

	simID, err := s.parseID(req.SimID)
	if err != nil {
		return simdomain.Sim{}, err
	}

	if !simdomain.IsValidState(req.Target) || req.Target == simdomain.SimStateProvisioned {
		return simdomain.Sim{}, simdomain.ErrInvalidTargetState
	}

	var result simdomain.Sim
	var fromState simdomain.SimState
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sim, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, simID)
		if err != nil {
			return err
		}
		if sim == nil {
			return simdomain.ErrSimNotFound
		}

		if sim.State == req.Target {
			result = *sim
			return nil
		}

		if !simdomain.IsTransitionAllowed(sim.State, req.Target) {
			return simdomain.ErrInvalidTransition
		}

		fromState = sim.State
		now := s.clock.Now()
		switch req.Target {
		case simdomain.SimStateActive:
			if sim.ActivatedAt == nil {
				sim.ActivatedAt = &now
			}
			sim.PriorState = ""
		case simdomain.SimStateBlocked:
			sim.PriorState = sim.State
		case simdomain.SimStateTerminated:
			sim.TerminatedAt = &now
			sim.PriorState = ""
		case simdomain.SimStateSuspended:
			sim.PriorState = ""
		}

		sim.State = req.Target
		sim.UpdatedAt = now

		if err := s.repo.UpdateLifecycle(ctx, tx, sim); err != nil {
			return err
		}
		if err := s.repo.InsertEvent(ctx, tx, s.newEvent(ctx, sim, fromState, req.Target, simdomain.EventTypeForState(req.Target, false), req.Reason, req.CorrelationID)); err != nil {
			return err
		}

		result = *sim
		return nil
	}); err != nil {
		return simdomain.Sim{}, err
	}

	if fromState != "" {
		if s.resolver != nil {
			s.resolver.Invalidate(orgID.String(), result.ICCID)
		}
		s.metrics.RecordSimTransition(ctx, string(fromState), string(req.Target))
		meta := map[string]any{
			"from_state": string(fromState),
			"to_state":   string(req.Target),
			"reason":     req.Reason,
		}
		if cid := strings.TrimSpace(req.CorrelationID); cid != "" {
			meta["correlation_id"] = cid
		}
		s.auditAction(ctx, orgID, "sim.transition", simID, meta)
	}

	return result, nil
}

// Unblock restores the state the SIM held before it was blocked.
func (s *Service) Unblock(ctx context.Context, simID, reason, correlationID string) (simdomain.Sim, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return simdomain.Sim{}, simdomain.ErrInvalidOrganization
	}

	id, err := s.parseID(simID)
	if err != nil {
		return simdomain.Sim{}, err
	}

	var result simdomain.Sim
	var restored simdomain.SimState
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sim, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if sim == nil {
			return simdomain.ErrSimNotFound
		}
		if sim.State != simdomain.SimStateBlocked {
			return simdomain.ErrSimNotBlocked
		}

		restored = sim.PriorState
		if restored == "" || restored == simdomain.SimStateBlocked {
			restored = simdomain.SimStateActive
		}

		now := s.clock.Now()
		sim.State = restored
		sim.PriorState = ""
		sim.UpdatedAt = now

		if err := s.repo.UpdateLifecycle(ctx, tx, sim); err != nil {
			return err
		}
		if err := s.repo.InsertEvent(ctx, tx, s.newEvent(ctx, sim, simdomain.SimStateBlocked, restored, simdomain.EventTypeForState(restored, true), reason, correlationID)); err != nil {
			return err
		}

		result = *sim
		return nil
	}); err != nil {
		return simdomain.Sim{}, err
	}

	if s.resolver != nil {
		s.resolver.Invalidate(orgID.String(), result.ICCID)
	}
	s.metrics.RecordSimTransition(ctx, string(simdomain.SimStateBlocked), string(restored))
	meta := map[string]any{
		"restored_state": string(restored),
		"reason":         reason,
	}
	if cid := strings.TrimSpace(correlationID); cid != "" {
		meta["correlation_id"] = cid
	}
	s.auditAction(ctx, orgID, "sim.unblock", id, meta)

	return result, nil
}

func (s *Service) newEvent(ctx context.Context, sim *simdomain.Sim, from, to simdomain.SimState, eventType, reason, correlationID string) *simdomain.SimEvent {
	actorType, actorID := tenantctx.ActorFromContext(ctx)
	return &simdomain.SimEvent{
		ID:            s.genID.Generate(),
		OrgID:         sim.OrgID,
		SimID:         sim.ID,
		EventType:     eventType,
		FromState:     from,
		ToState:       to,
		Reason:        strings.TrimSpace(reason),
		CorrelationID: strings.TrimSpace(correlationID),
		ActorType:     actorType,
		ActorID:       actorID,
		Metadata: datatypes.JSONMap{
			"iccid": masking.MaskICCID(sim.ICCID),
		},
		OccurredAt: s.clock.Now(),
		CreatedAt:  s.clock.Now(),
	}
}

func (s *Service) auditAction(ctx context.Context, orgID snowflake.ID, action string, simID snowflake.ID, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	target := simID.String()
	if err := s.audit.AuditLog(ctx, &orgID, "", nil, action, auditdomain.TargetTypeSim, &target, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, simdomain.ErrInvalidSim
	}
	return id, nil
}

func isValidICCID(iccid string) bool {
	if len(iccid) < 18 || len(iccid) > 20 {
		return false
	}
	for _, r := range iccid {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
