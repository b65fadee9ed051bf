package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrNotFound indicates the requested folder does not exist.
	ErrNotFound = errors.New("folder not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderUnavailable indicates the provider service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")

	// ErrInvalidRequest indicates the provider rejected the request shape.
	ErrInvalidRequest = errors.New("invalid request")
)

// ProviderError wraps provider-specific errors with context.
type ProviderError struct {
	// Op is the operation that failed (e.g., "ListFolders", "MoveFolder").
	Op string

	// Provider is the provider type (e.g., "gdrive").
	Provider ProviderType

	// ParentID is the parent folder involved, if applicable.
	ParentID string

	// FileID is the folder being operated on, if applicable.
	FileID string

	// StatusCode is the HTTP status reported by the provider.
	// Zero when the failure did not come from an HTTP response.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var status string
	if e.StatusCode != 0 {
		status = fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.FileID != "" {
		return fmt.Sprintf("%s %s: %s%s: %v", e.Provider, e.Op, e.FileID, status, e.Err)
	}
	if e.ParentID != "" {
		return fmt.Sprintf("%s %s: parent %s%s: %v", e.Provider, e.Op, e.ParentID, status, e.Err)
	}
	return fmt.Sprintf("%s %s%s: %v", e.Provider, e.Op, status, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or zero if err does
// not wrap a ProviderError with a status.
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// IsNotFound returns true if the error indicates a folder was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsProviderUnavailable returns true if the error indicates the provider service is unavailable.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// SentinelForStatus maps an HTTP status to the matching sentinel error.
// Unknown statuses return nil.
func SentinelForStatus(status int) error {
	switch {
	case status == 400:
		return ErrInvalidRequest
	case status == 401:
		return ErrInvalidCredentials
	case status == 403:
		return ErrAccessDenied
	case status == 404:
		return ErrNotFound
	case status == 429:
		return ErrThrottled
	case status >= 500 && status < 600:
		return ErrProviderUnavailable
	}
	return nil
}
