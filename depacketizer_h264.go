package pixbuf

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// H.264 NAL unit type for IDR slices (ITU-T H.264 Table 7-1).
const nalTypeIDR = 5

// H264Depacketizer reassembles H.264 RTP payloads into Annex-B units.
// Handles single NAL packets, STAP-A aggregation, and FU-A fragmentation
// per RFC 6184.
type H264Depacketizer struct {
	unitData    []byte // Accumulated NAL data for current unit (Annex-B format)
	fuaBuffer   []byte // Buffer for FU-A fragments (single NAL being assembled)
	fragmenting bool   // True when in the middle of FU-A fragmentation
	timestamp   uint32 // Current unit timestamp
	keyframe    bool
	mu          sync.Mutex
}

// NewH264Depacketizer creates a new H.264 RTP depacketizer.
func NewH264Depacketizer() (*H264Depacketizer, error) {
	return &H264Depacketizer{}, nil
}

// Depacketize processes an RTP packet and returns a complete unit if available.
// The returned unit contains Annex-B formatted NAL units (start codes + NAL data).
func (d *H264Depacketizer) Depacketize(pkt *RTPPacket) (*Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(pkt.Payload) == 0 {
		return nil, nil
	}

	nalType := pkt.Payload[0] & 0x1F

	// Handle timestamp changes (new unit started)
	if d.timestamp != 0 && d.timestamp != pkt.Header.Timestamp {
		d.unitData = d.unitData[:0]
		d.fuaBuffer = d.fuaBuffer[:0]
		d.fragmenting = false
		d.keyframe = false
	}
	d.timestamp = pkt.Header.Timestamp

	switch {
	case nalType >= 1 && nalType <= 23:
		// Single NAL unit packet - accumulate into unit
		if nalType == nalTypeIDR {
			d.keyframe = true
		}
		// Append with Annex-B start code
		d.unitData = append(d.unitData, 0, 0, 0, 1)
		d.unitData = append(d.unitData, pkt.Payload...)

	case nalType == 24:
		// STAP-A (Single-time aggregation packet) - multiple NALs in one packet
		if err := d.depacketizeSTAPA(pkt.Payload); err != nil {
			return nil, err
		}

	case nalType == 28:
		// FU-A (Fragmentation unit) - NAL split across multiple packets
		if err := d.depacketizeFUA(pkt.Payload); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported NAL type: %d", nalType)
	}

	// Return unit when marker bit is set (end of access unit)
	if pkt.Header.Marker && len(d.unitData) > 0 {
		unit := &Unit{
			Data:      make([]byte, len(d.unitData)),
			Keyframe:  d.keyframe,
			Timestamp: d.timestamp,
		}
		copy(unit.Data, d.unitData)

		// Reset for next unit
		d.unitData = d.unitData[:0]
		d.keyframe = false
		return unit, nil
	}

	return nil, nil
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte) error {
	// Skip STAP-A header
	offset := 1

	for offset < len(payload) {
		if offset+2 > len(payload) {
			break
		}
		naluSize := int(binary.BigEndian.Uint16(payload[offset:]))
		offset += 2

		if offset+naluSize > len(payload) {
			break
		}

		if naluSize > 0 && payload[offset]&0x1F == nalTypeIDR {
			d.keyframe = true
		}

		// Add start code + NAL unit to unit data
		d.unitData = append(d.unitData, 0, 0, 0, 1)
		d.unitData = append(d.unitData, payload[offset:offset+naluSize]...)
		offset += naluSize
	}

	return nil
}

func (d *H264Depacketizer) depacketizeFUA(payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("FU-A packet too short")
	}

	fuIndicator := payload[0]
	fuHeader := payload[1]

	isStart := (fuHeader & 0x80) != 0
	isEnd := (fuHeader & 0x40) != 0
	nalType := fuHeader & 0x1F

	if isStart {
		if nalType == nalTypeIDR {
			d.keyframe = true
		}

		// Reconstruct NAL header and start new FU-A buffer
		nalHeader := (fuIndicator & 0xE0) | nalType
		d.fuaBuffer = d.fuaBuffer[:0]
		d.fuaBuffer = append(d.fuaBuffer, nalHeader)
		d.fragmenting = true
	}

	if !d.fragmenting {
		return nil
	}

	// Append fragment data (skip FU indicator and header)
	d.fuaBuffer = append(d.fuaBuffer, payload[2:]...)

	if isEnd {
		// FU-A complete - append to unit data with start code
		d.unitData = append(d.unitData, 0, 0, 0, 1)
		d.unitData = append(d.unitData, d.fuaBuffer...)
		d.fuaBuffer = d.fuaBuffer[:0]
		d.fragmenting = false
	}

	return nil
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *H264Depacketizer) DepacketizeBytes(data []byte) (*Unit, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered partial units.
func (d *H264Depacketizer) Reset() {
	d.mu.Lock()
	d.unitData = d.unitData[:0]
	d.fuaBuffer = d.fuaBuffer[:0]
	d.timestamp = 0
	d.keyframe = false
	d.fragmenting = false
	d.mu.Unlock()
}

func init() {
	RegisterDepacketizer(CodecH264, func() (Depacketizer, error) {
		return NewH264Depacketizer()
	})
}
