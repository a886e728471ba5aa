// Package tts obtains speech audio for a text message from a hosted
// synthesis provider.
package tts

import (
	"context"
	"errors"
)

// Audio encodings a provider may return
const (
	EncodingLinear16 = "LINEAR16"
	EncodingMP3      = "MP3"
)

// ErrProviderFailure means the provider failed or returned no usable audio
var ErrProviderFailure = errors.New("speech synthesis failed")

// Result is one synthesized utterance. Audio is base64 text; Encoding says
// how the decoded bytes are laid out. SampleRate and Channels describe
// LINEAR16 audio and are informational for MP3.
type Result struct {
	Audio      string
	Encoding   string
	SampleRate int
	Channels   int
	Voice      string
}

// Synthesizer turns text into speech audio
type Synthesizer interface {
	// Synthesize makes one provider call. Failures wrap ErrProviderFailure.
	Synthesize(ctx context.Context, text string) (*Result, error)

	// Ready reports whether the provider can be called right now
	Ready(ctx context.Context) (bool, error)
}
