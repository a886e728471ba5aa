package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// Stream is one complete compressed audio file
type Stream []byte

// Base64 returns the text form of the stream for JSON or other text
// transports. The device upload carries the raw bytes in a multipart part.
func (s Stream) Base64() string {
	return base64.StdEncoding.EncodeToString(s)
}

// Assemble concatenates frames in emission order. The order of frames is the
// only thing that makes the result decodable.
func Assemble(frames []Frame) Stream {
	size := 0
	for _, f := range frames {
		size += len(f)
	}

	out := make(Stream, 0, size)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// Chunk splits samples into consecutive slices of size samples, the last one
// possibly shorter. The slices alias the input.
func Chunk(samples []int16, size int) [][]int16 {
	if size <= 0 || len(samples) == 0 {
		return nil
	}

	chunks := make([][]int16, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		chunks = append(chunks, samples[start:end])
	}
	return chunks
}

// EncodeStats describes one encode+flush cycle
type EncodeStats struct {
	Chunks      int // Encode calls
	EmptyFrames int // Encode/Flush calls that emitted nothing
	Bytes       int
}

// EncodeStream feeds samples to enc in frameSize chunks, flushes once and
// assembles the result. enc must be fresh and is spent afterwards.
func EncodeStream(enc FrameEncoder, samples []int16, frameSize int) (Stream, EncodeStats, error) {
	var stats EncodeStats
	chunks := Chunk(samples, frameSize)
	frames := make([]Frame, 0, len(chunks)+1)

	for i, chunk := range chunks {
		frame, err := enc.Encode(chunk)
		if err != nil {
			return nil, stats, fmt.Errorf("encoding chunk %d/%d: %w", i+1, len(chunks), asEncodingFailure(err))
		}
		stats.Chunks++
		if len(frame) == 0 {
			stats.EmptyFrames++
			continue
		}
		frames = append(frames, frame)
	}

	tail, err := enc.Flush()
	if err != nil {
		return nil, stats, fmt.Errorf("flushing encoder: %w", asEncodingFailure(err))
	}
	if len(tail) == 0 {
		stats.EmptyFrames++
	} else {
		frames = append(frames, tail)
	}

	stream := Assemble(frames)
	stats.Bytes = len(stream)
	return stream, stats, nil
}

func asEncodingFailure(err error) error {
	if errors.Is(err, ErrEncodingFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrEncodingFailure, err)
}
