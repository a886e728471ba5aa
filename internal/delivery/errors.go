package delivery

import (
	"errors"
	"fmt"

	"github.com/echoglove/voice-bridge/internal/device"
	"github.com/echoglove/voice-bridge/internal/tts"
)

var (
	// ErrBusy rejects a delivery while another one is in flight
	ErrBusy = errors.New("a delivery is already in progress")
	// ErrEmptyMessage rejects blank text before anything starts
	ErrEmptyMessage = errors.New("message is required")
)

// Stage names the pipeline step an error came from
type Stage string

const (
	StageSynthesis Stage = "synthesis"
	StageDecode    Stage = "decode"
	StageEncode    Stage = "encode"
	StageUpload    Stage = "upload"
)

// Bucket groups failures for display
type Bucket int

const (
	BucketGeneric Bucket = iota
	BucketSynthesis
	BucketDestination
)

func (b Bucket) String() string {
	switch b {
	case BucketSynthesis:
		return "synthesis"
	case BucketDestination:
		return "destination"
	default:
		return "generic"
	}
}

// Message is the only failure text shown to users
func (b Bucket) Message() string {
	switch b {
	case BucketSynthesis:
		return "Failed to convert text to MP3. Check the TTS service."
	case BucketDestination:
		return "MP3 created but failed to send to the speaker. Check the device address."
	default:
		return "Something went wrong while delivering the message."
	}
}

// Error is the single failure a delivery surfaces
type Error struct {
	Stage  Stage
	Bucket Bucket
	Err    error
}

func newError(stage Stage, err error) *Error {
	return &Error{Stage: stage, Bucket: bucketFor(stage, err), Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the bucket summary, never the underlying error text
func (e *Error) UserMessage() string {
	return e.Bucket.Message()
}

func bucketFor(stage Stage, err error) Bucket {
	switch {
	case stage == StageUpload:
		return BucketDestination
	case stage == StageSynthesis:
		return BucketSynthesis
	}
	return Classify(err)
}

// Classify buckets an arbitrary error
func Classify(err error) Bucket {
	var de *Error
	if errors.As(err, &de) {
		return de.Bucket
	}

	var ue *device.UploadError
	if errors.As(err, &ue) || errors.Is(err, device.ErrInvalidAddress) {
		return BucketDestination
	}
	if errors.Is(err, tts.ErrProviderFailure) {
		return BucketSynthesis
	}
	return BucketGeneric
}

// IsRetryable reports whether re-running the same delivery may succeed: the
// device was unreachable or answered with a server error.
func IsRetryable(err error) bool {
	var de *Error
	if !errors.As(err, &de) || de.Stage != StageUpload {
		return false
	}
	if device.IsTransportFailure(de.Err) {
		return true
	}
	return device.StatusCode(de.Err) >= 500
}
