package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func encodePCM(samples []int16) string {
	pcmData := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(pcmData[i*2:], uint16(sample))
	}
	return base64.StdEncoding.EncodeToString(pcmData)
}

func TestDecodePCM16(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768, 1}

	buf, err := DecodePCM16(encodePCM(samples), SpeechSampleRate, SpeechChannels)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}

	if !reflect.DeepEqual(buf.Samples, samples) {
		t.Errorf("Expected samples %v, got %v", samples, buf.Samples)
	}
	if buf.SampleRate != 24000 || buf.Channels != 1 {
		t.Errorf("Expected 24000 Hz mono, got %d Hz %d ch", buf.SampleRate, buf.Channels)
	}
}

func TestDecodePCM16_Idempotent(t *testing.T) {
	samples := make([]int16, 4800)
	for i := range samples {
		samples[i] = int16((i * 37) % 20000)
	}
	b64 := encodePCM(samples)

	first, err := DecodePCM16(b64, SpeechSampleRate, SpeechChannels)
	if err != nil {
		t.Fatalf("first decode failed: %v", err)
	}
	second, err := DecodePCM16(b64, SpeechSampleRate, SpeechChannels)
	if err != nil {
		t.Fatalf("second decode failed: %v", err)
	}

	if !reflect.DeepEqual(first.Samples, second.Samples) {
		t.Error("Expected identical samples from repeated decodes")
	}
}

func TestDecodePCM16_OddLength(t *testing.T) {
	for _, n := range []int{1, 3, 4801} {
		raw := make([]byte, n)
		_, err := DecodePCM16(base64.StdEncoding.EncodeToString(raw), SpeechSampleRate, SpeechChannels)
		if !errors.Is(err, ErrMalformedAudio) {
			t.Errorf("%d bytes: expected ErrMalformedAudio, got %v", n, err)
		}
	}
}

func TestDecodePCM16_InvalidBase64(t *testing.T) {
	_, err := DecodePCM16("not base64!!", SpeechSampleRate, SpeechChannels)
	if !errors.Is(err, ErrMalformedAudio) {
		t.Errorf("Expected ErrMalformedAudio, got %v", err)
	}
}

func TestDecodePCM16_Empty(t *testing.T) {
	buf, err := DecodePCM16("", SpeechSampleRate, SpeechChannels)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}
	if len(buf.Samples) != 0 {
		t.Errorf("Expected no samples, got %d", len(buf.Samples))
	}
}

func TestSamplesToBytes_RoundTrip(t *testing.T) {
	samples := []int16{-32768, -1, 0, 1, 32767}

	got, err := BytesToSamples(SamplesToBytes(samples))
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}
	if !reflect.DeepEqual(got, samples) {
		t.Errorf("Expected %v, got %v", samples, got)
	}
}

func TestBuffer_Duration(t *testing.T) {
	buf := &Buffer{Samples: make([]int16, 48000), SampleRate: 24000, Channels: 1}
	if d := buf.Duration(); d != 2.0 {
		t.Errorf("Expected 2s, got %v", d)
	}
}
