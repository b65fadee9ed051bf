// Package mover re-parents folders with bounded exponential-backoff retry.
package mover

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/qbucket/pkg/planner"
	"github.com/3leaps/qbucket/pkg/provider"
)

// RetryPolicy controls which move failures are retried and how long to wait
// between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// RetryableStatuses lists HTTP statuses that trigger a retry.
	RetryableStatuses []int

	// BaseDelay is multiplied by 2^attempt.
	BaseDelay time.Duration

	// Jitter is added to every delay.
	Jitter time.Duration
}

// DefaultRetryPolicy returns 5 attempts on 403, 429, 500 and 503 with a
// delay of 2^attempt seconds plus 250ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		RetryableStatuses: []int{403, 429, 500, 503},
		BaseDelay:         time.Second,
		Jitter:            250 * time.Millisecond,
	}
}

// Backoff returns the delay before retry number attempt, counted from 0.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseDelay<<attempt + p.Jitter
}

// Retryable reports whether err carries a retryable status.
func (p RetryPolicy) Retryable(err error) bool {
	status := provider.StatusCode(err)
	return status != 0 && slices.Contains(p.RetryableStatuses, status)
}

// RetryError reports a move that still failed after every attempt.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("move failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// ErrPendingBucket is returned by Apply for a move whose bucket was never
// created, as in a dry-run plan.
var ErrPendingBucket = errors.New("bucket folder does not exist")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Mover applies moves one at a time.
type Mover struct {
	provider provider.Provider
	policy   RetryPolicy
	logger   *zap.Logger
	sleep    SleepFunc
}

// Option configures a Mover.
type Option func(*Mover)

// WithSleep replaces the backoff sleep.
func WithSleep(fn SleepFunc) Option {
	return func(m *Mover) { m.sleep = fn }
}

// New creates a mover. A zero MaxAttempts uses the default policy.
func New(p provider.Provider, policy RetryPolicy, logger *zap.Logger, opts ...Option) *Mover {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mover{provider: p, policy: policy, logger: logger, sleep: sleepContext}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Move adds newParentID to the folder's parents and removes oldParentID.
//
// Failures with a retryable status are retried until the policy is
// exhausted, after which the last error is returned wrapped in a
// *RetryError. Other failures are returned immediately.
func (m *Mover) Move(ctx context.Context, fileID, oldParentID, newParentID string) error {
	opts := provider.MoveOptions{FileID: fileID, AddParentID: newParentID, RemoveParentID: oldParentID}

	var err error
	for attempt := 0; attempt < m.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := m.policy.Backoff(attempt - 1)
			m.logger.Debug("[retry]",
				zap.String("file_id", fileID),
				zap.Int("attempt", attempt+1),
				zap.Int("status", provider.StatusCode(err)),
				zap.Duration("delay", delay))
			if serr := m.sleep(ctx, delay); serr != nil {
				return serr
			}
		}

		err = m.provider.MoveFolder(ctx, opts)
		if err == nil {
			return nil
		}
		if !m.policy.Retryable(err) {
			return err
		}
	}
	return &RetryError{Attempts: m.policy.MaxAttempts, Err: err}
}

// Apply executes the plan's moves in order and stops at the first error.
// It returns how many moves were applied. Applied moves are never undone.
func (m *Mover) Apply(ctx context.Context, plan *planner.Plan, onMoved func(planner.Move)) (int, error) {
	moved := 0
	for _, mv := range plan.Moves {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		if mv.BucketPending {
			return moved, fmt.Errorf("move %s: %w: %s", mv.Name, ErrPendingBucket, mv.BucketName)
		}
		if err := m.Move(ctx, mv.FileID, mv.OldParentID, mv.NewParentID); err != nil {
			return moved, fmt.Errorf("move %s -> %s: %w", mv.Name, mv.BucketName, err)
		}
		moved++
		m.logger.Debug("[move]",
			zap.String("name", mv.Name),
			zap.String("file_id", mv.FileID),
			zap.String("bucket", mv.BucketName))
		if onMoved != nil {
			onMoved(mv)
		}
	}
	return moved, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
