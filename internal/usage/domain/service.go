package domain

import (
	"context"
	"errors"
	"time"

	"github.com/airgate-io/airgate/pkg/db/pagination"
)

const (
	MaxBatchSize = 1000

	// MaxBatchFailures bounds the per-item failure list echoed back on a
	// batch submit so a fully rejected maximum-size batch stays small.
	MaxBatchFailures = 50
)

type SubmitRecordRequest struct {
	RecordID      string         `json:"record_id,omitempty"`
	ICCID         string         `json:"iccid"`
	UsageType     UsageType      `json:"usage_type"`
	Quantity      int64          `json:"quantity"`
	UploadBytes   int64          `json:"upload_bytes,omitempty"`
	DownloadBytes int64          `json:"download_bytes,omitempty"`
	Unit          string         `json:"unit,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type SubmitRecordResponse struct {
	Record    UsageRecord `json:"record"`
	Duplicate bool        `json:"duplicate"`
}

type SubmitBatchRequest struct {
	Records []SubmitRecordRequest `json:"records"`
}

type BatchFailure struct {
	Index    int    `json:"index"`
	RecordID string `json:"record_id,omitempty"`
	Cause    string `json:"cause"`
}

type SubmitBatchResponse struct {
	Received   int            `json:"received"`
	Accepted   int            `json:"accepted"`
	Duplicates int            `json:"duplicates"`
	Failed     int            `json:"failed"`
	// Failures holds at most MaxBatchFailures entries, in input order.
	Failures []BatchFailure `json:"failures,omitempty"`
}

type GetCycleRequest struct {
	SimID   string
	CycleID string
}

type ListRecordRequest struct {
	pagination.Pagination
	SimID   string
	CycleID string
	Matched *bool
}

type ListRecordResponse struct {
	pagination.PageInfo
	Records []UsageRecord `json:"records"`
}

type Service interface {
	SubmitRecord(ctx context.Context, req SubmitRecordRequest) (SubmitRecordResponse, error)
	SubmitBatch(ctx context.Context, req SubmitBatchRequest) (SubmitBatchResponse, error)
	GetCycle(ctx context.Context, req GetCycleRequest) (UsageCycle, error)
	ListRecords(ctx context.Context, req ListRecordRequest) (ListRecordResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidICCID        = errors.New("invalid_iccid")
	ErrInvalidUsageType    = errors.New("invalid_usage_type")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidOccurredAt   = errors.New("invalid_occurred_at")
	ErrInvalidRecordID     = errors.New("invalid_record_id")
	ErrInvalidSim          = errors.New("invalid_sim")
	ErrCycleNotFound       = errors.New("cycle_not_found")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrEmptyBatch          = errors.New("empty_batch")
	ErrBatchTooLarge       = errors.New("batch_too_large")
)
