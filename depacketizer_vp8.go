package pixbuf

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// VP8Depacketizer reassembles VP8 RTP payloads into units using pion's codecs.
type VP8Depacketizer struct {
	depacketizer codecs.VP8Packet
	buffer       []byte
	timestamp    uint32
	keyframe     bool
	mu           sync.Mutex
}

// NewVP8Depacketizer creates a new VP8 RTP depacketizer.
func NewVP8Depacketizer() (*VP8Depacketizer, error) {
	return &VP8Depacketizer{}, nil
}

// Depacketize processes an RTP packet and returns a complete unit if available.
func (d *VP8Depacketizer) Depacketize(packet *RTPPacket) (*Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.depacketizer.Unmarshal(packet.Payload); err != nil {
		return nil, fmt.Errorf("VP8 unmarshal failed: %w", err)
	}

	// Handle timestamp changes (new unit started)
	if d.timestamp != 0 && d.timestamp != packet.Header.Timestamp {
		d.buffer = d.buffer[:0]
	}
	d.timestamp = packet.Header.Timestamp

	// Detect keyframe from VP8 header
	if d.depacketizer.S == 1 && d.depacketizer.PID == 0 {
		d.keyframe = len(d.depacketizer.Payload) > 0 && (d.depacketizer.Payload[0]&0x01) == 0
	}

	d.buffer = append(d.buffer, d.depacketizer.Payload...)

	if packet.Header.Marker {
		unit := &Unit{
			Data:      make([]byte, len(d.buffer)),
			Keyframe:  d.keyframe,
			Timestamp: d.timestamp,
		}
		copy(unit.Data, d.buffer)
		d.buffer = d.buffer[:0]
		d.keyframe = false
		return unit, nil
	}
	return nil, nil
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *VP8Depacketizer) DepacketizeBytes(data []byte) (*Unit, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered partial units.
func (d *VP8Depacketizer) Reset() {
	d.mu.Lock()
	d.buffer = d.buffer[:0]
	d.timestamp = 0
	d.keyframe = false
	d.mu.Unlock()
}

func init() {
	RegisterDepacketizer(CodecVP8, func() (Depacketizer, error) {
		return NewVP8Depacketizer()
	})
}
