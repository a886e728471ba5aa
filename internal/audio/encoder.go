package audio

import (
	"bytes"
	"fmt"

	"github.com/braheezy/shine-mp3/pkg/mp3"
)

// FrameSize is the number of samples handed to the encoder per Encode call.
const FrameSize = 1152

// BackendBitrateKbps is the only bitrate the MP3 backend produces.
const BackendBitrateKbps = 128

// Frame is the encoder output for one input chunk. An empty frame means the
// encoder had nothing to emit yet.
type Frame []byte

// FrameEncoder turns ordered PCM chunks into a compressed stream. Flush must
// be called exactly once after the final Encode.
type FrameEncoder interface {
	Encode(chunk []int16) (Frame, error)
	Flush() (Frame, error)
}

// EncoderParams fixes the stream format for the lifetime of an encoder
type EncoderParams struct {
	Channels    int
	SampleRate  int
	BitrateKbps int
}

// DefaultEncoderParams matches synthesized speech: 24 kHz mono at 128 kbps
func DefaultEncoderParams() EncoderParams {
	return EncoderParams{
		Channels:    SpeechChannels,
		SampleRate:  SpeechSampleRate,
		BitrateKbps: BackendBitrateKbps,
	}
}

var mp3SampleRates = map[int]bool{
	8000: true, 11025: true, 12000: true,
	16000: true, 22050: true, 24000: true,
	32000: true, 44100: true, 48000: true,
}

// Validate rejects formats the backend cannot encode
func (p EncoderParams) Validate() error {
	if p.Channels != 1 && p.Channels != 2 {
		return fmt.Errorf("%w: unsupported channel count %d", ErrEncodingFailure, p.Channels)
	}
	if !mp3SampleRates[p.SampleRate] {
		return fmt.Errorf("%w: unsupported sample rate %d", ErrEncodingFailure, p.SampleRate)
	}
	if p.BitrateKbps != BackendBitrateKbps {
		return fmt.Errorf("%w: unsupported bitrate %d kbps (encoder runs at %d)", ErrEncodingFailure, p.BitrateKbps, BackendBitrateKbps)
	}
	return nil
}

// samplesPerPass is the interleaved sample count of one MPEG Layer III frame.
// MPEG-1 rates carry two granules per frame, MPEG-2/2.5 rates carry one.
func (p EncoderParams) samplesPerPass() int {
	granules := 1
	if p.SampleRate >= 32000 {
		granules = 2
	}
	return granules * 576 * p.Channels
}

// MP3Encoder wraps a shine encoder for one message. Samples that do not fill
// a whole MPEG frame are held back until more input arrives or Flush pads
// them out, so every Encode returns only complete frames.
type MP3Encoder struct {
	params  EncoderParams
	enc     *mp3.Encoder
	pass    int
	pending []int16
	out     bytes.Buffer
	flushed bool
}

// NewMP3Encoder creates an encoder. The instance must not be shared between
// messages.
func NewMP3Encoder(params EncoderParams) (*MP3Encoder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &MP3Encoder{
		params: params,
		enc:    mp3.NewEncoder(params.SampleRate, params.Channels),
		pass:   params.samplesPerPass(),
	}, nil
}

// NewFrameEncoder returns a fresh MP3Encoder as a FrameEncoder
func NewFrameEncoder(params EncoderParams) (FrameEncoder, error) {
	enc, err := NewMP3Encoder(params)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// Encode consumes one chunk of interleaved samples
func (e *MP3Encoder) Encode(chunk []int16) (Frame, error) {
	if e.flushed {
		return nil, ErrEncoderClosed
	}

	e.pending = append(e.pending, chunk...)
	whole := len(e.pending) / e.pass * e.pass
	if whole == 0 {
		return Frame{}, nil
	}

	if err := e.write(e.pending[:whole]); err != nil {
		return nil, err
	}
	e.pending = append(e.pending[:0], e.pending[whole:]...)

	return e.drain(), nil
}

// Flush zero-pads and encodes any held-back samples and closes the encoder
func (e *MP3Encoder) Flush() (Frame, error) {
	if e.flushed {
		return nil, ErrEncoderClosed
	}
	e.flushed = true

	if len(e.pending) > 0 {
		padded := make([]int16, e.pass)
		copy(padded, e.pending)
		e.pending = nil
		if err := e.write(padded); err != nil {
			return nil, err
		}
	}

	return e.drain(), nil
}

// Params returns the format the encoder was built with
func (e *MP3Encoder) Params() EncoderParams {
	return e.params
}

// write encodes samples one pass at a time. shine steps through its input
// as if it were interleaved stereo, so a mono buffer longer than one pass
// would lose every other pass. len(samples) must be a multiple of e.pass.
func (e *MP3Encoder) write(samples []int16) error {
	for i := 0; i+e.pass <= len(samples); i += e.pass {
		if err := e.enc.Write(&e.out, samples[i:i+e.pass]); err != nil {
			return fmt.Errorf("%w: %v", ErrEncodingFailure, err)
		}
	}
	return nil
}

func (e *MP3Encoder) drain() Frame {
	frame := make(Frame, e.out.Len())
	copy(frame, e.out.Bytes())
	e.out.Reset()
	return frame
}
