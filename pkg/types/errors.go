package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for the orchestrator. Components wrap these sentinels with
// fmt.Errorf("...: %w", err) so callers can classify with errors.Is.
var (
	ErrInvalidPlan         = errors.New("invalid plan")
	ErrInvalidDistribution = errors.New("invalid distribution")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderThrottled   = errors.New("provider throttled") // retryable
	ErrProviderFatal       = errors.New("provider fatal error")
	ErrBlobUnavailable     = errors.New("blob store unavailable")
	ErrBlobNotFound        = errors.New("blob not found")
	ErrWorkerFailedToStart = errors.New("worker failed to start")
	ErrWorkerFailed        = errors.New("worker failed")
	ErrAggregatorPartial   = errors.New("aggregation incomplete")
	ErrAggregatorFatal     = errors.New("aggregation failed")
	ErrCancelled           = errors.New("cancelled")
	ErrDeadlineExceeded    = errors.New("deadline exceeded")
)

// InvalidPlanError carries every failing constraint of a rejected plan
type InvalidPlanError struct {
	Violations []string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid plan: %s", strings.Join(e.Violations, "; "))
}

func (e *InvalidPlanError) Is(target error) bool {
	return target == ErrInvalidPlan
}

// Orchestrator process exit codes
const (
	ExitOK             = 0
	ExitDegraded       = 2
	ExitFailed         = 3
	ExitCancelled      = 4
	ExitInvalidPlan    = 5
	ExitInfrastructure = 6
)

// ExitCodeFor maps a run outcome and error to the process exit code
func ExitCodeFor(outcome *RunOutcome, err error) int {
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPlan), errors.Is(err, ErrInvalidDistribution):
			return ExitInvalidPlan
		case errors.Is(err, ErrCancelled):
			return ExitCancelled
		default:
			return ExitInfrastructure
		}
	}
	if outcome == nil {
		return ExitInfrastructure
	}
	switch outcome.Status {
	case RunStatusOK:
		return ExitOK
	case RunStatusDegraded:
		return ExitDegraded
	case RunStatusFailed:
		return ExitFailed
	case RunStatusCancelled:
		return ExitCancelled
	default:
		return ExitInfrastructure
	}
}
