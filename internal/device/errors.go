package device

import (
	"errors"
	"fmt"
)

// FailureKind separates "device reachable but rejected" from "device unreachable"
type FailureKind int

const (
	// HTTPStatusFailure means the device answered with a non-2xx status
	HTTPStatusFailure FailureKind = iota
	// TransportFailure means no response was received at all
	TransportFailure
)

func (k FailureKind) String() string {
	switch k {
	case HTTPStatusFailure:
		return "http_status"
	case TransportFailure:
		return "transport"
	default:
		return "unknown"
	}
}

// ErrInvalidAddress is returned before any I/O when the address is unusable
var ErrInvalidAddress = errors.New("invalid device address")

// UploadError describes a failed upload attempt. Both kinds may be retried by
// the caller with unchanged input.
type UploadError struct {
	Kind       FailureKind
	URL        string
	Status     int    // HTTPStatusFailure only
	StatusText string // HTTPStatusFailure only
	Body       string // best-effort, possibly empty
	Err        error  // TransportFailure only
}

func (e *UploadError) Error() string {
	if e.Kind == TransportFailure {
		return fmt.Sprintf("device upload to %s failed: transport failure: %v", e.URL, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("device upload to %s failed: %d %s: %s", e.URL, e.Status, e.StatusText, e.Body)
	}
	return fmt.Sprintf("device upload to %s failed: %d %s", e.URL, e.Status, e.StatusText)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsTransportFailure reports whether err is an upload that never got a response
func IsTransportFailure(err error) bool {
	var ue *UploadError
	return errors.As(err, &ue) && ue.Kind == TransportFailure
}

// StatusCode returns the device's HTTP status for a HTTPStatusFailure, or 0
func StatusCode(err error) int {
	var ue *UploadError
	if errors.As(err, &ue) && ue.Kind == HTTPStatusFailure {
		return ue.Status
	}
	return 0
}
