// ABOUTME: Typed errors for sync operations plus transient/permanent classification.
// ABOUTME: Enables programmatic error handling with errors.Is() and errors.As().
package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic handling.
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrVersionMismatch  = errors.New("version mismatch")
	ErrNetworkFailure   = errors.New("network failure")
	ErrServerError      = errors.New("server error")
	ErrNotConfigured    = errors.New("sync not configured")
)

// Permanent reports whether err can never succeed on retry. Permanent
// failures cause the queued operation to be dropped rather than retained.
func Permanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrMalformedPayload)
}

// Transient reports whether err may succeed on a later attempt. Anything
// that is not permanent counts as transient, including all network errors.
// Version mismatches are neither: they are conflicts, handled by resolution.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	return !Permanent(err) && !errors.Is(err, ErrVersionMismatch)
}

// SyncError wraps errors with operation context.
type SyncError struct {
	Op      string // "create", "update", "delete", "list", "drain", "reconcile"
	Err     error  // underlying typed error
	Retries int    // attempts made
	Detail  string // server message if any
}

func (e *SyncError) Error() string {
	if e.Retries > 1 {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Retries, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
