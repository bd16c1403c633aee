package domain

import (
	"context"
	"errors"
	"time"
)

type QueryRequest struct {
	SimID       string
	Granularity string
	UsageType   string
	From        time.Time
	To          time.Time
}

type QueryResponse struct {
	Buckets []RollupBucket `json:"buckets"`
}

type Service interface {
	// ProcessPending folds a batch of not-yet-rolled usage records into
	// the configured bucket granularities. Returns how many records it
	// folded; zero means the backlog is drained.
	ProcessPending(ctx context.Context) (int, error)

	// Rebuild drops every bucket and replays all accumulated records.
	// Used after a granularity change or a suspected aggregate drift.
	Rebuild(ctx context.Context) error

	Query(ctx context.Context, req QueryRequest) (QueryResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSim          = errors.New("invalid_sim")
	ErrInvalidGranularity  = errors.New("invalid_granularity")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
)
