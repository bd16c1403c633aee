// Package domain contains persistence models for SIM identities and
// their lifecycle events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SimState represents lifecycle states for a SIM identity.
type SimState string

const (
	SimStateProvisioned SimState = "provisioned"
	SimStateActive      SimState = "active"
	SimStateSuspended   SimState = "suspended"
	SimStateBlocked     SimState = "blocked"
	SimStateTerminated  SimState = "terminated"
)

// allowedTransitions is the lifecycle adjacency table. Blocked is absent
// as a target here because entering it goes through Block, which also
// records the prior state, and leaving it goes through Unblock.
var allowedTransitions = map[SimState]map[SimState]struct{}{
	SimStateProvisioned: {
		SimStateActive:     {},
		SimStateTerminated: {},
	},
	SimStateActive: {
		SimStateSuspended:  {},
		SimStateBlocked:    {},
		SimStateTerminated: {},
	},
	SimStateSuspended: {
		SimStateActive:     {},
		SimStateBlocked:    {},
		SimStateTerminated: {},
	},
	SimStateBlocked: {
		SimStateTerminated: {},
	},
	SimStateTerminated: {},
}

// IsTransitionAllowed reports whether current may move to target.
func IsTransitionAllowed(current, target SimState) bool {
	targets, ok := allowedTransitions[current]
	if !ok {
		return false
	}
	_, ok = targets[target]
	return ok
}

// IsValidState reports whether the value names a known lifecycle state.
func IsValidState(state SimState) bool {
	switch state {
	case SimStateProvisioned, SimStateActive, SimStateSuspended, SimStateBlocked, SimStateTerminated:
		return true
	default:
		return false
	}
}

// Sim is a provisioned SIM identity scoped to a tenant organization.
type Sim struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID `gorm:"not null;index;uniqueIndex:idx_sims_org_iccid,priority:1" json:"org_id"`
	ICCID        string       `gorm:"column:iccid;type:text;not null;uniqueIndex:idx_sims_org_iccid,priority:2" json:"iccid"`
	IMSI         string       `gorm:"column:imsi;type:text" json:"imsi,omitempty"`
	MSISDN       string       `gorm:"column:msisdn;type:text" json:"msisdn,omitempty"`
	State        SimState     `gorm:"type:text;not null" json:"state"`
	PriorState   SimState     `gorm:"type:text" json:"prior_state,omitempty"`
	ActivatedAt  *time.Time   `json:"activated_at,omitempty"`
	TerminatedAt *time.Time   `json:"terminated_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Sim) TableName() string { return "sims" }

// SimEvent records a lifecycle change. Rows with published=false feed
// the webhook fanout job.
type SimEvent struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID      `gorm:"not null;index" json:"org_id"`
	SimID         snowflake.ID      `gorm:"not null;index" json:"sim_id"`
	EventType     string            `gorm:"type:text;not null" json:"event_type"`
	FromState     SimState          `gorm:"type:text" json:"from_state"`
	ToState       SimState          `gorm:"type:text" json:"to_state"`
	Reason        string            `gorm:"type:text" json:"reason,omitempty"`
	CorrelationID string            `gorm:"type:text" json:"correlation_id,omitempty"`
	ActorType     string            `gorm:"type:text" json:"actor_type,omitempty"`
	ActorID       string            `gorm:"type:text" json:"actor_id,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	Published     bool              `gorm:"not null;default:false" json:"-"`
	OccurredAt    time.Time         `gorm:"not null" json:"occurred_at"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (SimEvent) TableName() string { return "sim_events" }

// Lifecycle event types emitted on transitions.
const (
	EventSimProvisioned = "sim.provisioned"
	EventSimActivated   = "sim.activated"
	EventSimSuspended   = "sim.suspended"
	EventSimBlocked     = "sim.blocked"
	EventSimUnblocked   = "sim.unblocked"
	EventSimTerminated  = "sim.terminated"
)

// EventTypeForState maps a target state to its event type.
func EventTypeForState(target SimState, unblocked bool) string {
	if unblocked {
		return EventSimUnblocked
	}
	switch target {
	case SimStateActive:
		return EventSimActivated
	case SimStateSuspended:
		return EventSimSuspended
	case SimStateBlocked:
		return EventSimBlocked
	case SimStateTerminated:
		return EventSimTerminated
	default:
		return EventSimProvisioned
	}
}
