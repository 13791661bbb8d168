package pixbuf

import (
	"testing"
)

// FuzzDetectCodec tests codec detection with random inputs.
// Run with: go test -fuzz=FuzzDetectCodec -fuzztime=30s
func FuzzDetectCodec(f *testing.F) {
	seeds := [][]byte{
		// H264 Annex-B patterns
		{0x00, 0x00, 0x00, 0x01, 0x67}, // SPS
		{0x00, 0x00, 0x00, 0x01, 0x68}, // PPS
		{0x00, 0x00, 0x00, 0x01, 0x65}, // IDR
		{0x00, 0x00, 0x01, 0x61, 0x00}, // 3-byte start code + slice

		// H264 AVCC
		{0x00, 0x00, 0x00, 0x05, 0x67, 0x42, 0x00, 0x0A, 0x00},

		// MPEG-4 Part 2 start codes
		{0x00, 0x00, 0x01, 0xB0, 0x01},
		{0x00, 0x00, 0x01, 0xB6, 0x10},
		{0x00, 0x00, 0x01, 0x20, 0x00},

		// VP8 keyframes
		{0x00, 0x00, 0x00, 0x9D, 0x01, 0x2A, 0x00, 0x00, 0x00, 0x00},
		{0x10, 0x00, 0x00, 0x9D, 0x01, 0x2A, 0x00, 0x00, 0x00, 0x00},

		// VP9 frames (frame_marker = 0b10)
		{0x82, 0x49, 0x83, 0x42},
		{0xA0, 0x00, 0x00, 0x00},

		// JPEG SOI
		{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},

		// IVF headers
		{'D', 'K', 'I', 'F', 0, 0, 32, 0, 'V', 'P', '8', '0', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		{'D', 'K', 'I', 'F', 0, 0, 32, 0, 'V', 'P', '9', '0', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},

		// Edge cases
		{},
		{0x00},
		{0x00, 0x00},
		{0x00, 0x00, 0x00},
		{0xFF, 0xFF, 0xFF, 0xFF},
		{0xC0, 0xC1, 0xC2, 0xC3},
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		// Detection must never panic and must return a defined codec value.
		result := DetectCodec(data)
		if result < CodecUnknown || result > CodecJPEG {
			t.Errorf("DetectCodec returned invalid codec: %d", result)
		}
	})
}
