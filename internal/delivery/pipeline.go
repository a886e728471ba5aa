package delivery

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/echoglove/voice-bridge/internal/audio"
	"github.com/echoglove/voice-bridge/internal/tts"
)

// Metric stage labels
const (
	metricSynthesis = "synthesis"
	metricTranscode = "transcode"
	metricUpload    = "upload"
)

// silenceRMS is the level below which synthesized speech is reported as silent
const silenceRMS = 50.0

// execute runs the stages of one delivery in order. The first failure ends
// the delivery in Error.
func (s *Session) execute(ctx context.Context, r *run, text string) {
	stream, err := s.convert(ctx, r, text)
	if err != nil {
		s.finish(r, err)
		return
	}
	s.advance(r, StateConverted)

	s.advance(r, StateSending)
	r.metrics.RecordStageStart(metricUpload)
	err = s.uploader.Upload(ctx, r.device, stream)
	r.metrics.RecordStageEnd(metricUpload, err == nil)
	if err != nil {
		r.metrics.RecordError("upload", "device")
		s.finish(r, newError(StageUpload, err))
		return
	}

	s.finish(r, nil)
}

// convert synthesizes text and returns the MP3 file to upload
func (s *Session) convert(ctx context.Context, r *run, text string) ([]byte, error) {
	r.metrics.RecordStageStart(metricSynthesis)
	result, err := s.synth.Synthesize(ctx, text)
	r.metrics.RecordStageEnd(metricSynthesis, err == nil)
	if err != nil {
		r.metrics.RecordError("synthesis", "tts")
		return nil, newError(StageSynthesis, err)
	}
	if result == nil || result.Audio == "" {
		r.metrics.RecordError("synthesis", "tts")
		return nil, newError(StageSynthesis, fmt.Errorf("%w: empty audio", tts.ErrProviderFailure))
	}

	r.logger.Info().
		Str("encoding", result.Encoding).
		Int("sample_rate", result.SampleRate).
		Int("channels", result.Channels).
		Msg("Speech synthesized")

	r.metrics.RecordStageStart(metricTranscode)
	var stream []byte
	switch result.Encoding {
	case tts.EncodingLinear16:
		stream, err = s.transcode(r, result)
	case tts.EncodingMP3:
		stream, err = s.passthrough(r, result)
	default:
		err = newError(StageDecode, fmt.Errorf("%w: unsupported encoding %q", audio.ErrMalformedAudio, result.Encoding))
	}
	r.metrics.RecordStageEnd(metricTranscode, err == nil)
	if err != nil {
		r.metrics.RecordError("transcode", "audio")
		return nil, err
	}
	return stream, nil
}

// transcode decodes PCM16, conforms it to the encoder format and encodes it
// with an encoder created for this delivery only.
func (s *Session) transcode(r *run, result *tts.Result) ([]byte, error) {
	// Conform only folds mono and stereo
	if result.Channels != 1 && result.Channels != 2 {
		return nil, newError(StageDecode, fmt.Errorf("%w: unsupported channel count %d", audio.ErrMalformedAudio, result.Channels))
	}
	if result.SampleRate <= 0 {
		return nil, newError(StageDecode, fmt.Errorf("%w: invalid sample rate %d", audio.ErrMalformedAudio, result.SampleRate))
	}

	buf, err := audio.DecodePCM16(result.Audio, result.SampleRate, result.Channels)
	if err != nil {
		return nil, newError(StageDecode, err)
	}
	if len(buf.Samples) == 0 {
		return nil, newError(StageDecode, fmt.Errorf("%w: no samples", audio.ErrMalformedAudio))
	}
	r.metrics.RecordAudioBytes("pcm", len(buf.Samples)*2)
	if audio.DetectSilence(buf.Samples, silenceRMS) {
		// Still delivered; the speaker plays what the provider produced
		r.logger.Warn().
			Float64("rms", audio.CalculateRMS(buf.Samples)).
			Msg("Synthesized audio is silent")
	}

	buf = audio.Conform(buf, s.params.SampleRate, s.params.Channels)

	enc, err := s.newEncoder(s.params)
	if err != nil {
		return nil, newError(StageEncode, err)
	}

	stream, stats, err := audio.EncodeStream(enc, buf.Samples, audio.FrameSize)
	if err != nil {
		return nil, newError(StageEncode, err)
	}
	r.metrics.RecordEncoderChunks(stats.Chunks)
	r.metrics.RecordAudioBytes("mp3", stats.Bytes)

	r.logger.Info().
		Int("samples", len(buf.Samples)).
		Float64("duration_s", buf.Duration()).
		Int("chunks", stats.Chunks).
		Int("empty_frames", stats.EmptyFrames).
		Int("mp3_bytes", stats.Bytes).
		Msg("MP3 file created")

	return stream, nil
}

// passthrough forwards provider MP3 after checking it holds MPEG frames
func (s *Session) passthrough(r *run, result *tts.Result) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(result.Audio)
	if err != nil {
		return nil, newError(StageDecode, fmt.Errorf("%w: invalid base64: %v", audio.ErrMalformedAudio, err))
	}

	info, err := audio.ScanMP3(data)
	if err != nil {
		return nil, newError(StageDecode, err)
	}
	r.metrics.RecordAudioBytes("mp3", len(data))

	r.logger.Info().
		Int("frames", info.Frames).
		Int("sample_rate", info.SampleRate).
		Dur("duration", info.Duration()).
		Msg("Forwarding provider MP3")

	return data, nil
}
