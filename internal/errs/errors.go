// Package errs centralizes the error taxonomy for the installation
// orchestration core. Call sites return these sentinels (or the
// parameterized types below) instead of ad hoc fmt.Errorf strings, and
// wrap with %w when adding context, so callers can errors.Is/errors.As
// against a stable identifier.
package errs

import "fmt"

// Sentinel errors. Each maps to a stable identifier a plugin or UI layer
// can switch on.
var (
	ErrCancelled              = fmt.Errorf("cancelled")
	ErrAnotherOperationRunning = fmt.Errorf("another operation is already running for this installation")
	ErrAlreadyRunning         = fmt.Errorf("installation is already running")
	ErrUnknownInstallation    = fmt.Errorf("unknown installation")
	ErrUnknownSource          = fmt.Errorf("unknown source plugin")
	ErrDuplicatePath          = fmt.Errorf("install path is already in use by another installation")
	ErrDuplicateName          = fmt.Errorf("installation name is already in use")
	ErrPathDoesNotExist       = fmt.Errorf("path does not exist")
	ErrInstallDirEmpty        = fmt.Errorf("install directory is empty")
	ErrSafetyCheckFailed      = fmt.Errorf("safety check failed")
	ErrNoEnvFound             = fmt.Errorf("no package environment found")
	ErrNoLaunchSupport        = fmt.Errorf("source plugin does not support launching")
	ErrTransport              = fmt.Errorf("transport error")
	ErrRedirects              = fmt.Errorf("too many redirects")
	ErrExtractionFailed       = fmt.Errorf("extraction failed")
	ErrTarExtractionFailed    = fmt.Errorf("tar extraction failed")
	ErrInvalidSnapshot        = fmt.Errorf("invalid snapshot reference")
	ErrBackupFailed           = fmt.Errorf("targeted backup failed")
	ErrRestoreReverted        = fmt.Errorf("restore reverted after failure")
	ErrInvalidConfig          = fmt.Errorf("invalid configuration value")
)

// HTTPStatus is returned by the downloader when the origin server responds
// with a non-2xx, non-redirect status code.
type HTTPStatus struct {
	Code int
}

func (e *HTTPStatus) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// PortConflict is returned by the launch sequence (spec §4.11 step 5) when
// the target port is occupied and the installation's portConflict policy
// is "ask" rather than "auto".
type PortConflict struct {
	Port     int
	PIDs     []int
	IsComfy  bool
	NextPort int
}

func (e *PortConflict) Error() string {
	return fmt.Sprintf("port %d is in use", e.Port)
}
