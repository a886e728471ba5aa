package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

// scriptedEncoder returns pre-set frames in call order
type scriptedEncoder struct {
	frames  []Frame
	tail    Frame
	calls   int
	chunks  [][]int16
	failAt  int // 1-based Encode call that fails, 0 for never
	flushed int
}

func (s *scriptedEncoder) Encode(chunk []int16) (Frame, error) {
	s.calls++
	if s.failAt == s.calls {
		return nil, errors.New("bit reservoir exhausted")
	}
	s.chunks = append(s.chunks, chunk)
	if s.calls-1 < len(s.frames) {
		return s.frames[s.calls-1], nil
	}
	return Frame{}, nil
}

func (s *scriptedEncoder) Flush() (Frame, error) {
	s.flushed++
	return s.tail, nil
}

func TestAssemble_Order(t *testing.T) {
	a, b, c, d := Frame("AAAA"), Frame("BB"), Frame("CCCCCC"), Frame("D")

	got := Assemble([]Frame{a, b, c, d})
	if !bytes.Equal(got, []byte("AAAABBCCCCCCD")) {
		t.Errorf("Expected A‖B‖C‖D, got %q", got)
	}
}

func TestEncodeStream_ConcatenatesInEmissionOrder(t *testing.T) {
	enc := &scriptedEncoder{
		frames: []Frame{Frame("A"), Frame("B"), Frame("C")},
		tail:   Frame("D"),
	}

	stream, stats, err := EncodeStream(enc, make([]int16, 3*FrameSize), FrameSize)
	if err != nil {
		t.Fatalf("EncodeStream failed: %v", err)
	}

	if string(stream) != "ABCD" {
		t.Errorf("Expected stream ABCD, got %q", stream)
	}
	if enc.flushed != 1 {
		t.Errorf("Expected exactly one flush, got %d", enc.flushed)
	}
	if stats.Chunks != 3 || stats.Bytes != 4 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if got := stream.Base64(); got != base64.StdEncoding.EncodeToString([]byte("ABCD")) {
		t.Errorf("Unexpected base64 %q", got)
	}
}

func TestEncodeStream_EmptyFramesAreNotErrors(t *testing.T) {
	enc := &scriptedEncoder{
		frames: []Frame{{}, Frame("X"), {}},
		tail:   Frame{},
	}

	stream, stats, err := EncodeStream(enc, make([]int16, 3*FrameSize), FrameSize)
	if err != nil {
		t.Fatalf("EncodeStream failed: %v", err)
	}
	if string(stream) != "X" {
		t.Errorf("Expected stream X, got %q", stream)
	}
	if stats.EmptyFrames != 3 {
		t.Errorf("Expected 3 empty frames, got %d", stats.EmptyFrames)
	}
}

func TestEncodeStream_ChunkSizes(t *testing.T) {
	enc := &scriptedEncoder{}

	if _, _, err := EncodeStream(enc, make([]int16, 48000), FrameSize); err != nil {
		t.Fatalf("EncodeStream failed: %v", err)
	}

	if len(enc.chunks) != 42 {
		t.Fatalf("Expected 42 chunks, got %d", len(enc.chunks))
	}
	for i, c := range enc.chunks[:41] {
		if len(c) != FrameSize {
			t.Errorf("chunk %d: expected %d samples, got %d", i, FrameSize, len(c))
		}
	}
	if last := len(enc.chunks[41]); last != 48000-41*FrameSize {
		t.Errorf("Expected final chunk of %d samples, got %d", 48000-41*FrameSize, last)
	}
}

func TestEncodeStream_PropagatesEncoderError(t *testing.T) {
	enc := &scriptedEncoder{failAt: 2}

	_, _, err := EncodeStream(enc, make([]int16, 3*FrameSize), FrameSize)
	if !errors.Is(err, ErrEncodingFailure) {
		t.Errorf("Expected ErrEncodingFailure, got %v", err)
	}
	if enc.flushed != 0 {
		t.Error("Expected no flush after a failed encode")
	}
}

func TestChunk(t *testing.T) {
	if got := Chunk(nil, FrameSize); got != nil {
		t.Errorf("Expected nil for empty input, got %v", got)
	}
	if got := Chunk(make([]int16, 10), 0); got != nil {
		t.Errorf("Expected nil for zero size, got %v", got)
	}
	if got := len(Chunk(make([]int16, 2304), FrameSize)); got != 2 {
		t.Errorf("Expected 2 chunks, got %d", got)
	}
}
