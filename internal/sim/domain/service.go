package domain

import (
	"context"
	"errors"

	"github.com/airgate-io/airgate/pkg/db/pagination"
)

type CreateSimRequest struct {
	ICCID    string            `json:"iccid"`
	IMSI     string            `json:"imsi,omitempty"`
	MSISDN   string            `json:"msisdn,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	Activate bool              `json:"activate,omitempty"`
}

type ListSimRequest struct {
	pagination.Pagination
	State    string
	LabelKey string
	LabelVal string
}

type ListSimResponse struct {
	pagination.PageInfo
	Sims []Sim `json:"sims"`
}

type TransitionRequest struct {
	SimID         string
	Target        SimState
	Reason        string
	CorrelationID string
}

type Service interface {
	Create(ctx context.Context, req CreateSimRequest) (Sim, error)
	GetByID(ctx context.Context, id string) (Sim, error)
	GetByICCID(ctx context.Context, iccid string) (Sim, error)
	List(ctx context.Context, req ListSimRequest) (ListSimResponse, error)
	Transition(ctx context.Context, req TransitionRequest) (Sim, error)
	Unblock(ctx context.Context, simID, reason, correlationID string) (Sim, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrSimNotFound         = errors.New("sim_not_found")
	ErrInvalidSim          = errors.New("invalid_sim")
	ErrInvalidICCID        = errors.New("invalid_iccid")
	ErrDuplicateICCID      = errors.New("duplicate_iccid")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrInvalidTargetState  = errors.New("invalid_target_state")
	ErrSimNotBlocked       = errors.New("sim_not_blocked")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)
