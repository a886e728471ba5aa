package audio

import (
	"encoding/base64"
	"fmt"
)

// Fixed format of synthesized speech handed to the encoder
const (
	SpeechSampleRate = 24000
	SpeechChannels   = 1
)

// Buffer is decoded PCM16 audio. It is owned by a single delivery and not
// modified after decoding.
type Buffer struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the playback length in seconds
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 || b.Channels == 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate*b.Channels)
}

// DecodePCM16 decodes base64 text carrying little-endian signed 16-bit PCM.
// sampleRate and channels describe the stream and are copied onto the result.
func DecodePCM16(b64 string, sampleRate, channels int) (*Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedAudio, err)
	}

	samples, err := BytesToSamples(raw)
	if err != nil {
		return nil, err
	}

	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// BytesToSamples interprets consecutive byte pairs as little-endian int16.
// An odd byte count is rejected rather than padded.
func BytesToSamples(pcmData []byte) ([]int16, error) {
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("%w: PCM16 byte length %d is odd", ErrMalformedAudio, len(pcmData))
	}

	samples := make([]int16, len(pcmData)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}
	return samples, nil
}

// SamplesToBytes is the inverse of BytesToSamples
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
