// Package output renders archive runs as JSONL records or human-readable
// text.
//
// JSONL output is structured as typed record envelopes containing plans,
// moves, buckets, errors, and summaries. Each line is a self-contained
// JSON object that can be parsed independently.
package output

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/qbucket/pkg/planner"
	"github.com/3leaps/qbucket/pkg/provider"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: qbucket.<type>.v<version>
const (
	// TypePlan identifies the plan record emitted before any move.
	TypePlan = "qbucket.plan.v1"

	// TypeMove identifies applied move records.
	TypeMove = "qbucket.move.v1"

	// TypeBucket identifies bucket listing records.
	TypeBucket = "qbucket.bucket.v1"

	// TypeError identifies error records.
	TypeError = "qbucket.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "qbucket.summary.v1"

	// TypePreflight identifies preflight capability check records.
	TypePreflight = "qbucket.preflight.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "qbucket.move.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this run.
	RunID string `json:"run_id"`

	// Provider identifies the storage backend (e.g., "gdrive", "local").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// Move status values.
const (
	StatusPlanned = "planned"
	StatusMoved   = "moved"
)

// MoveRecord is the data payload for a planned or applied move.
type MoveRecord struct {
	FileID        string `json:"file_id"`
	Name          string `json:"name"`
	Key           int    `json:"key"`
	OldParentID   string `json:"old_parent_id"`
	NewParentID   string `json:"new_parent_id"`
	Bucket        string `json:"bucket"`
	BucketPending bool   `json:"bucket_pending,omitempty"`
	Status        string `json:"status"`
}

// NewMoveRecord converts a planned move.
func NewMoveRecord(mv planner.Move, status string) *MoveRecord {
	return &MoveRecord{
		FileID:        mv.FileID,
		Name:          mv.Name,
		Key:           mv.Key,
		OldParentID:   mv.OldParentID,
		NewParentID:   mv.NewParentID,
		Bucket:        mv.BucketName,
		BucketPending: mv.BucketPending,
		Status:        status,
	}
}

// PlanRecord is the data payload describing a complete plan.
type PlanRecord struct {
	SourceParentID string `json:"source_parent_id"`
	BucketParentID string `json:"bucket_parent_id"`
	Prefix         string `json:"prefix"`
	DryRun         bool   `json:"dry_run"`

	Scanned        int `json:"scanned"`
	Excluded       int `json:"excluded"`
	Matched        int `json:"matched"`
	Skipped        int `json:"skipped"`
	BucketsCreated int `json:"buckets_created"`
	BucketsPending int `json:"buckets_pending"`

	Moves []MoveRecord `json:"moves"`
}

// NewPlanRecord converts a plan. Every move carries StatusPlanned.
func NewPlanRecord(p *planner.Plan) *PlanRecord {
	rec := &PlanRecord{
		SourceParentID: p.SourceParentID,
		BucketParentID: p.BucketParentID,
		Prefix:         p.Prefix,
		DryRun:         p.DryRun,
		Scanned:        p.Scanned,
		Excluded:       p.Excluded,
		Matched:        p.Matched,
		Skipped:        p.Skipped,
		BucketsCreated: p.BucketsCreated,
		BucketsPending: p.BucketsPending,
		Moves:          make([]MoveRecord, 0, len(p.Moves)),
	}
	for _, mv := range p.Moves {
		rec.Moves = append(rec.Moves, *NewMoveRecord(mv, StatusPlanned))
	}
	return rec
}

// PreflightRecord is the data payload for preflight capability checks.
//
// Preflight records are emitted before planning. They state what was
// checked and whether the principal appears to have the required access.
type PreflightRecord struct {
	Mode    string                 `json:"mode"`
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is a single capability check result.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// BucketRecord is the data payload for a cached bucket folder.
type BucketRecord struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// FileID is the folder related to this error, if applicable.
	FileID string `json:"file_id,omitempty"`

	// Status is the HTTP status reported by the provider, if any.
	Status int `json:"status,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the folder was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeAuth indicates the credentials were rejected.
	ErrCodeAuth = "AUTH"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeUnavailable indicates the provider is unavailable.
	ErrCodeUnavailable = "UNAVAILABLE"

	// ErrCodeCancelled indicates the run was interrupted.
	ErrCodeCancelled = "CANCELLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// NewErrorRecord classifies err into an error record.
func NewErrorRecord(err error) *ErrorRecord {
	rec := &ErrorRecord{
		Code:    ErrorCode(err),
		Message: err.Error(),
		Status:  provider.StatusCode(err),
	}
	var perr *provider.ProviderError
	if errors.As(err, &perr) {
		rec.FileID = perr.FileID
	}
	return rec
}

// ErrorCode maps an error to an ErrorRecord code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrCodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case provider.IsThrottled(err):
		return ErrCodeThrottled
	case provider.IsNotFound(err):
		return ErrCodeNotFound
	case provider.IsAccessDenied(err):
		return ErrCodeAccessDenied
	case provider.IsInvalidCredentials(err):
		return ErrCodeAuth
	case provider.IsProviderUnavailable(err):
		return ErrCodeUnavailable
	}
	return ErrCodeInternal
}

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	// Planned is the number of moves in the plan.
	Planned int `json:"planned"`

	// Moved is the number of moves applied.
	Moved int `json:"moved"`

	// DryRun reports whether moves were skipped on purpose.
	DryRun bool `json:"dry_run"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Errors is the count of errors encountered.
	Errors int `json:"errors"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
