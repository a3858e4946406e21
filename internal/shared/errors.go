package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing client credentials")

	// Authorization errors
	ErrStateMismatch    = fmt.Errorf("authorization state mismatch")
	ErrNoPendingRequest = fmt.Errorf("no pending authorization request")
	ErrAuthExpired      = fmt.Errorf("authorization request expired")
	ErrAuthDenied       = fmt.Errorf("authorization denied")
	ErrNotConnected     = fmt.Errorf("not connected")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrPlatformRejected = fmt.Errorf("platform rejected the authorization")

	// Transfer errors
	ErrDownloadFailed          = fmt.Errorf("download failed")
	ErrUploadFailed            = fmt.Errorf("upload failed")
	ErrPlatformTimeout         = fmt.Errorf("timed out waiting for the platform")
	ErrPlatformReportedFailure = fmt.Errorf("platform reported failure")

	// Input validation errors
	ErrValidation      = fmt.Errorf("invalid request")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")

	// Lifecycle errors
	ErrAlreadyRunning = fmt.Errorf("bridge already running")

	// Registry and transport errors
	ErrNotFound           = fmt.Errorf("not found")
	ErrInvalidTransition  = fmt.Errorf("invalid status transition")
	ErrRateLimited        = fmt.Errorf("too many requests")
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
)

var authErrors = []error{
	ErrStateMismatch, ErrNoPendingRequest, ErrAuthExpired, ErrAuthDenied,
	ErrNotConnected, ErrRefreshFailed, ErrPlatformRejected,
}

var transferErrors = []error{
	ErrDownloadFailed, ErrUploadFailed, ErrPlatformTimeout, ErrPlatformReportedFailure,
}

// IsAuthError reports whether err belongs to the authorization family.
func IsAuthError(err error) bool {
	return isAny(err, authErrors)
}

// IsTransferError reports whether err belongs to the transfer family.
func IsTransferError(err error) bool {
	return isAny(err, transferErrors)
}

func isAny(err error, targets []error) bool {
	if err == nil {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
