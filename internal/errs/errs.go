// Package errs declares the typed error kinds shared across the
// supervision core. Callers compare with errors.Is; wrapping preserves
// context via fmt.Errorf("...: %w", ...).
package errs

import "errors"

var (
	ErrProcessNotFound    = errors.New("process not found")
	ErrAdapterFailure     = errors.New("platform adapter failure")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrRegistryValidation = errors.New("registry validation failed")
	ErrRestartInProgress  = errors.New("restart already in progress")
	ErrRestartRateLimited = errors.New("restart rate limited")
	ErrRestartFailure     = errors.New("restart failed")
	ErrHealthCheckError   = errors.New("health check error")
	ErrHealthCheckTimeout = errors.New("health check timed out")
	ErrPoolNotFound       = errors.New("pool not found")
	ErrPoolQueueFull      = errors.New("pool queue full")
	ErrTaskTimeout        = errors.New("task timed out")
	ErrWorkerUnhealthy    = errors.New("worker unhealthy")
	ErrSupervisionConfig  = errors.New("invalid supervision config")
	ErrIPCConnection      = errors.New("ipc connection error")
	ErrIPCTimeout         = errors.New("ipc request timed out")
)
