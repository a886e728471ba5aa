package audio

import (
	"fmt"
	"time"
)

// MP3Info summarises the Layer III frames found in a stream
type MP3Info struct {
	Frames          int
	SampleRate      int
	Channels        int
	BitrateKbps     int // of the first frame
	SamplesPerFrame int
	SkippedBytes    int // bytes outside frames and tags
}

// Samples returns the per-channel sample count the frames decode to
func (i MP3Info) Samples() int {
	return i.Frames * i.SamplesPerFrame
}

// Duration returns the playback length implied by the frame count
func (i MP3Info) Duration() time.Duration {
	if i.SampleRate == 0 {
		return 0
	}
	return time.Duration(i.Samples()) * time.Second / time.Duration(i.SampleRate)
}

var (
	l3BitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, -1}
	l3BitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1}

	sampleRatesByVersion = map[byte][3]int{
		3: {44100, 48000, 32000}, // MPEG-1
		2: {22050, 24000, 16000}, // MPEG-2
		0: {11025, 12000, 8000},  // MPEG-2.5
	}
)

type frameHeader struct {
	sampleRate      int
	bitrateKbps     int
	channels        int
	length          int
	samplesPerFrame int
}

func parseFrameHeader(b []byte) (frameHeader, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return frameHeader{}, false
	}

	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	if version == 1 || layer != 1 { // reserved version, or not Layer III
		return frameHeader{}, false
	}

	bitrateIdx := b[2] >> 4
	rateIdx := (b[2] >> 2) & 0x03
	padding := int((b[2] >> 1) & 0x01)
	if rateIdx == 3 || bitrateIdx == 0 || bitrateIdx == 15 {
		return frameHeader{}, false
	}

	h := frameHeader{
		sampleRate: sampleRatesByVersion[version][rateIdx],
		channels:   2,
	}
	if (b[3]>>6)&0x03 == 3 {
		h.channels = 1
	}

	if version == 3 {
		h.bitrateKbps = l3BitratesV1[bitrateIdx]
		h.samplesPerFrame = 1152
		h.length = 144*h.bitrateKbps*1000/h.sampleRate + padding
	} else {
		h.bitrateKbps = l3BitratesV2[bitrateIdx]
		h.samplesPerFrame = 576
		h.length = 72*h.bitrateKbps*1000/h.sampleRate + padding
	}

	return h, true
}

// id3v2Size returns the size of a leading ID3v2 tag, or 0
func id3v2Size(b []byte) int {
	if len(b) < 10 || string(b[:3]) != "ID3" {
		return 0
	}
	size := int(b[6]&0x7F)<<21 | int(b[7]&0x7F)<<14 | int(b[8]&0x7F)<<7 | int(b[9]&0x7F)
	size += 10
	if b[5]&0x10 != 0 { // footer present
		size += 10
	}
	return size
}

// ScanMP3 walks the frame headers of an MPEG Layer III stream. A stream
// without any valid frame is ErrMalformedAudio.
func ScanMP3(data []byte) (MP3Info, error) {
	var info MP3Info

	pos := id3v2Size(data)
	if pos > len(data) {
		return info, fmt.Errorf("%w: truncated ID3 tag", ErrMalformedAudio)
	}

	for pos+4 <= len(data) {
		h, ok := parseFrameHeader(data[pos:])
		if !ok || pos+h.length > len(data) {
			// A trailing ID3v1 tag is not garbage
			if len(data)-pos == 128 && string(data[pos:pos+3]) == "TAG" {
				break
			}
			pos++
			info.SkippedBytes++
			continue
		}

		if info.Frames == 0 {
			info.SampleRate = h.sampleRate
			info.Channels = h.channels
			info.BitrateKbps = h.bitrateKbps
			info.SamplesPerFrame = h.samplesPerFrame
		}
		info.Frames++
		pos += h.length
	}

	if pos < len(data) && len(data)-pos < 4 {
		info.SkippedBytes += len(data) - pos
	}

	if info.Frames == 0 {
		return info, fmt.Errorf("%w: no MPEG Layer III frames found", ErrMalformedAudio)
	}
	return info, nil
}
