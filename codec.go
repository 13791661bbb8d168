package pixbuf

// Codec identifies the compressed format a decoder context consumes.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecVP8
	CodecVP9
	CodecMPEG4
	CodecJPEG
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecVP8:
		return "VP8"
	case CodecVP9:
		return "VP9"
	case CodecMPEG4:
		return "MPEG4"
	case CodecJPEG:
		return "JPEG"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c Codec) MimeType() string {
	switch c {
	case CodecH264:
		return "video/H264"
	case CodecVP8:
		return "video/VP8"
	case CodecVP9:
		return "video/VP9"
	case CodecMPEG4:
		return "video/MP4V-ES"
	case CodecJPEG:
		return "image/jpeg"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c Codec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// Unit is one compressed unit ready for DecoderContext.Decode: a full access
// unit for H.264/MPEG-4, one frame for VP8/VP9, one image for JPEG.
type Unit struct {
	Data      []byte // Compressed bitstream data
	Keyframe  bool   // Decodable without reference frames
	Timestamp uint32 // RTP timestamp (90kHz clock)
}

// Clone creates a deep copy of the unit.
func (u *Unit) Clone() *Unit {
	clone := &Unit{
		Keyframe:  u.Keyframe,
		Timestamp: u.Timestamp,
	}
	if u.Data != nil {
		clone.Data = make([]byte, len(u.Data))
		copy(clone.Data, u.Data)
	}
	return clone
}
