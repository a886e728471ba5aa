package audio

import "errors"

var (
	// ErrMalformedAudio reports provider audio that cannot be interpreted:
	// invalid base64, an odd PCM16 byte count, or an MP3 payload without a
	// single valid frame. Retrying with the same input cannot succeed.
	ErrMalformedAudio = errors.New("malformed audio data")

	// ErrEncodingFailure reports an encoder construction or encode error.
	ErrEncodingFailure = errors.New("audio encoding failed")

	// ErrEncoderClosed is returned by Encode or Flush after Flush has run.
	ErrEncoderClosed = errors.New("encoder already flushed")
)
