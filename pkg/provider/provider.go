package provider

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
)

// State is the coarse container-group state a provider reports
type State string

const (
	StateRunning    State = "running"
	StateTerminated State = "terminated"
	StateUnknown    State = "unknown"
)

// Status is a point-in-time observation of a container group
type Status struct {
	State    State
	ExitCode *int // set when State is terminated and the provider knows it
}

// CreateSpec describes the container group a worker runs in
type CreateSpec struct {
	GroupName string
	Image     string
	Env       map[string]string
	CPUCores  float64
	MemoryGiB float64
}

// Provider is the capability contract for the cloud container service.
// Implementations must be safe for concurrent use; every call honors the
// context for cancellation and timeout.
type Provider interface {
	Create(ctx context.Context, spec CreateSpec) (providerID string, err error)
	Status(ctx context.Context, providerID string) (Status, error)
	Delete(ctx context.Context, providerID string) error
	Logs(ctx context.Context, providerID string) ([]byte, error) // best-effort
}

// IsThrottled reports whether the provider rejected a call due to rate
// limiting, making it worth retrying.
func IsThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "Throttling", "RequestLimitExceeded", "TooManyRequestsException":
			return true
		}
	}
	return false
}
