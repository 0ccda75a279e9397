package daemon

import "errors"

// Sentinel errors, checked with errors.Is() by callers that need to
// distinguish a stop-of-an-unstarted-daemon from a genuine failure.
var (
	ErrDaemonNotRunning     = errors.New("daemon is not running")
	ErrDaemonAlreadyRunning = errors.New("daemon is already running")
	ErrDaemonStartFailed    = errors.New("daemon failed to start")
	ErrDaemonStopFailed     = errors.New("daemon failed to stop")
)
