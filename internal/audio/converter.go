package audio

import (
	"math"
)

// Conform returns buf converted to the given sample rate and channel count.
// Stereo is averaged down to mono and mono is duplicated up to stereo. The
// input buffer is never modified. buf must be mono or stereo.
func Conform(buf *Buffer, sampleRate, channels int) *Buffer {
	if buf.SampleRate == sampleRate && buf.Channels == channels {
		return buf
	}

	samples := buf.Samples
	srcChannels := buf.Channels

	// Resampling works on mono; stereo sources are folded first
	if srcChannels == 2 {
		samples = downmix(samples)
		srcChannels = 1
	}

	if buf.SampleRate != sampleRate && buf.SampleRate > 0 {
		samples = Resample(samples, buf.SampleRate, sampleRate)
	}

	if srcChannels == 1 && channels == 2 {
		samples = upmix(samples)
		srcChannels = 2
	}

	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   srcChannels,
	}
}

// Resample performs simple linear interpolation resampling of mono samples.
// This is a basic implementation; speech from the providers is already at or
// near the target rate so interpolation artifacts stay inaudible.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		// Calculate source position
		srcPos := float64(i) / ratio

		// Linear interpolation
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

func downmix(interleaved []int16) []int16 {
	mono := make([]int16, len(interleaved)/2)
	for i := range mono {
		mono[i] = int16((int32(interleaved[2*i]) + int32(interleaved[2*i+1])) / 2)
	}
	return mono
}

func upmix(mono []int16) []int16 {
	stereo := make([]int16, len(mono)*2)
	for i, s := range mono {
		stereo[2*i] = s
		stereo[2*i+1] = s
	}
	return stereo
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// DetectSilence detects if audio samples represent silence
// Uses a simple energy threshold
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
