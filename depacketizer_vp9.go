package pixbuf

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// VP9Depacketizer reassembles VP9 RTP payloads into units using pion's codecs.
type VP9Depacketizer struct {
	depacketizer     codecs.VP9Packet
	buffer           []byte
	timestamp        uint32
	keyframe         bool
	lastCompletedTs  uint32 // Track last completed unit timestamp
	hasCompletedUnit bool   // Whether we've completed at least one unit
	mu               sync.Mutex
}

// NewVP9Depacketizer creates a new VP9 RTP depacketizer.
func NewVP9Depacketizer() (*VP9Depacketizer, error) {
	return &VP9Depacketizer{}, nil
}

// Depacketize processes an RTP packet and returns a complete unit if available.
func (d *VP9Depacketizer) Depacketize(packet *RTPPacket) (*Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.depacketizer.Unmarshal(packet.Payload); err != nil {
		return nil, fmt.Errorf("VP9 unmarshal failed: %w", err)
	}

	// Discard late-arriving packets for already completed units
	if d.hasCompletedUnit && IsRTPTimestampOlder(packet.Header.Timestamp, d.lastCompletedTs) {
		return nil, nil
	}

	// Handle timestamp changes (new unit started)
	if d.timestamp != 0 && d.timestamp != packet.Header.Timestamp {
		d.buffer = d.buffer[:0]
	}
	d.timestamp = packet.Header.Timestamp

	// Detect keyframe from VP9 header
	if d.depacketizer.B { // Beginning of frame
		d.keyframe = !d.depacketizer.P // Not inter-picture predicted
	}

	d.buffer = append(d.buffer, d.depacketizer.Payload...)

	// Unit complete when marker or end flag is set
	if packet.Header.Marker || d.depacketizer.E {
		unit := &Unit{
			Data:      make([]byte, len(d.buffer)),
			Keyframe:  d.keyframe,
			Timestamp: d.timestamp,
		}
		copy(unit.Data, d.buffer)

		// Track this as completed
		d.lastCompletedTs = d.timestamp
		d.hasCompletedUnit = true

		d.buffer = d.buffer[:0]
		d.keyframe = false
		return unit, nil
	}
	return nil, nil
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *VP9Depacketizer) DepacketizeBytes(data []byte) (*Unit, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered partial units and resets tracking state.
func (d *VP9Depacketizer) Reset() {
	d.mu.Lock()
	d.buffer = d.buffer[:0]
	d.timestamp = 0
	d.keyframe = false
	d.lastCompletedTs = 0
	d.hasCompletedUnit = false
	d.mu.Unlock()
}

func init() {
	RegisterDepacketizer(CodecVP9, func() (Depacketizer, error) {
		return NewVP9Depacketizer()
	})
}
