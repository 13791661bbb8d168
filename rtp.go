package pixbuf

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// Re-export pion/rtp types for convenience
type (
	// RTPPacket is an alias to pion's rtp.Packet
	RTPPacket = rtp.Packet

	// RTPHeader is an alias to pion's rtp.Header
	RTPHeader = rtp.Header
)

// Depacketizer reassembles RTP packets into decodable units.
type Depacketizer interface {
	// Depacketize processes an RTP packet and returns a complete unit if
	// available. Returns nil if the unit is not yet complete.
	Depacketize(packet *RTPPacket) (*Unit, error)

	// DepacketizeBytes processes raw RTP packet bytes.
	DepacketizeBytes(data []byte) (*Unit, error)

	// Reset clears any buffered partial units.
	Reset()
}

// DepacketizerFactory creates an RTP depacketizer.
type DepacketizerFactory func() (Depacketizer, error)

type depacketizerRegistry struct {
	factories map[Codec]DepacketizerFactory
	mu        sync.RWMutex
}

var globalDepacketizerRegistry = &depacketizerRegistry{
	factories: make(map[Codec]DepacketizerFactory),
}

// RegisterDepacketizer registers an RTP depacketizer factory for a codec.
func RegisterDepacketizer(codec Codec, factory DepacketizerFactory) {
	globalDepacketizerRegistry.mu.Lock()
	defer globalDepacketizerRegistry.mu.Unlock()
	globalDepacketizerRegistry.factories[codec] = factory
}

// NewDepacketizer creates an RTP depacketizer for the given codec.
func NewDepacketizer(codec Codec) (Depacketizer, error) {
	globalDepacketizerRegistry.mu.RLock()
	factory, ok := globalDepacketizerRegistry.factories[codec]
	globalDepacketizerRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("depacketizer not available: %v", codec)
	}

	return factory()
}

// IsRTPTimestampOlder returns true if ts1 is older than or equal to ts2,
// handling 32-bit wraparound correctly per RTP timestamp comparison rules.
// This is used by depacketizers to discard late-arriving packets.
func IsRTPTimestampOlder(ts1, ts2 uint32) bool {
	if ts1 == ts2 {
		return true
	}
	// Standard RTP timestamp comparison with wraparound handling:
	// ts1 is older if (ts2 - ts1) < 2^31
	diff := ts2 - ts1
	return diff < 0x80000000
}
