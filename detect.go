package pixbuf

// DetectCodec detects the video codec from raw bitstream data.
// Supports detection of:
//   - H.264/AVC: Annex-B format (ITU-T H.264) and AVCC format (ISO/IEC 14496-15)
//   - VP8: RFC 6386 - VP8 Data Format and Decoding Guide
//   - VP9: VP9 Bitstream & Decoding Process Specification
//   - MPEG-4 Part 2: ISO/IEC 14496-2 visual bitstream
//   - JPEG: ISO/IEC 10918-1 (JFIF/EXIF interchange)
//   - IVF: WebM Project container format
//
// Returns CodecUnknown if the codec cannot be determined.
func DetectCodec(data []byte) Codec {
	if len(data) < 4 {
		return CodecUnknown
	}

	// JPEG SOI marker. Per ISO/IEC 10918-1, a JPEG stream starts with
	// 0xFFD8 followed by another marker (0xFF).
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return CodecJPEG
	}

	// MPEG-4 Part 2 start codes come before the generic Annex-B check: both
	// use the 0x000001 prefix, but MPEG-4 start code values sit above the
	// H.264 NAL range.
	if isMPEG4StartCode(data) {
		return CodecMPEG4
	}

	// Check for Annex-B start code (H.264)
	if isAnnexBStartCode(data) {
		nalType := getNALType(data)
		if isH264NALType(nalType) {
			return CodecH264
		}
	}

	// Check for AVCC format (H.264 in container)
	if isAVCCFormat(data) {
		return CodecH264
	}

	// Check for IVF header (VP8/VP9)
	if len(data) >= 32 && string(data[0:4]) == "DKIF" {
		fourCC := string(data[8:12])
		switch fourCC {
		case "VP80":
			return CodecVP8
		case "VP90":
			return CodecVP9
		}
	}

	// Check for VP8 keyframe
	if isVP8Keyframe(data) {
		return CodecVP8
	}

	// Check for VP9 frame
	if isVP9Frame(data) {
		return CodecVP9
	}

	return CodecUnknown
}

// isAnnexBStartCode checks for H.264 Annex-B start codes.
// Per ITU-T H.264 Annex B, NAL units are prefixed with:
//   - 4-byte start code: 0x00000001 (used at stream start and after certain NALUs)
//   - 3-byte start code: 0x000001 (used between NALUs)
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	// 4-byte start code: 0x00000001
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	// 3-byte start code: 0x000001
	if data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return true
	}
	return false
}

// getNALType extracts NAL unit type from Annex-B data.
// Per ITU-T H.264 Section 7.3.1, the NAL unit header is:
//   - forbidden_zero_bit (1 bit): must be 0
//   - nal_ref_idc (2 bits): reference priority
//   - nal_unit_type (5 bits): type identifier (values 1-12 and 19-21 for H.264)
func getNALType(data []byte) byte {
	if len(data) < 4 {
		return 0
	}
	offset := 3
	if data[2] == 0 {
		offset = 4
	}
	if len(data) <= offset {
		return 0
	}
	return data[offset] & 0x1F // H.264 NAL type is in lower 5 bits
}

// isH264NALType checks if NAL type is valid H.264.
// Per ITU-T H.264 Table 7-1, valid NAL unit types are:
//   - 1: Non-IDR slice, 2: Slice data partition A, 3-4: Slice data partitions B/C
//   - 5: IDR slice, 6: SEI, 7: SPS, 8: PPS, 9: AUD, 10: End of seq, 11: End of stream, 12: Filler
//   - 19: Coded slice of aux picture, 20: Coded slice extension, 21: Coded slice extension for depth
func isH264NALType(nalType byte) bool {
	return (nalType >= 1 && nalType <= 12) || (nalType >= 19 && nalType <= 21)
}

// isAVCCFormat checks for AVCC (length-prefixed) format.
// Per ISO/IEC 14496-15 (MPEG-4 Part 15), AVCC format uses:
//   - 4-byte big-endian NAL unit length prefix instead of start codes
//   - Commonly used in MP4/MOV containers and RTMP streams
func isAVCCFormat(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	// Check if first 4 bytes could be a length prefix
	length := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	// Sanity check: length should be reasonable and data should be long enough
	return length > 0 && length < len(data) && length < 10*1024*1024
}

// isMPEG4StartCode checks for MPEG-4 Part 2 visual start codes.
// Per ISO/IEC 14496-2 Section 6.3, visual bitstream elements start with a
// 0x000001 prefix followed by a start code value:
//   - 0x00-0x1F: video_object_start_code
//   - 0x20-0x2F: video_object_layer_start_code
//   - 0xB0: visual_object_sequence_start_code
//   - 0xB3: group_of_vop_start_code
//   - 0xB5: visual_object_start_code
//   - 0xB6: vop_start_code
//
// The low value range overlaps H.264 NAL types, so only the unambiguous
// values above 0x1F are accepted here.
func isMPEG4StartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] != 0 || data[1] != 0 || data[2] != 1 {
		return false
	}
	switch {
	case data[3] >= 0x20 && data[3] <= 0x2F:
		return true
	case data[3] == 0xB0 || data[3] == 0xB3 || data[3] == 0xB5 || data[3] == 0xB6:
		return true
	}
	return false
}

// isVP8Keyframe checks for VP8 keyframe signature.
// Per RFC 6386 Section 9.1, VP8 uncompressed data chunk:
//   - Byte 0: frame_type (1 bit), version (3 bits), show_frame (1 bit), partition_size (19 bits)
//   - Bytes 3-5 (keyframe only): start code 0x9D 0x01 0x2A followed by width/height
func isVP8Keyframe(data []byte) bool {
	if len(data) < 10 {
		return false
	}
	// VP8 keyframe: first byte bit 0 = 0 (keyframe), bits 1-3 = version
	frameTag := data[0]
	if frameTag&0x01 != 0 { // Not a keyframe
		return false
	}
	// Check for VP8 start code after 3-byte frame tag
	if len(data) >= 6 && data[3] == 0x9D && data[4] == 0x01 && data[5] == 0x2A {
		return true
	}
	return false
}

// isVP9Frame checks for VP9 frame structure.
// Per VP9 Bitstream Specification Section 6.2, the uncompressed header starts with:
//   - frame_marker (2 bits): always 0b10 (decimal 2)
//   - profile_low_bit (1 bit), reserved/profile_high_bit (1 bit)
//   - show_existing_frame (1 bit), frame_type (1 bit), etc.
func isVP9Frame(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	// VP9 frame marker is 2 bits = 0b10 at bits 6-7 of first byte
	frameMarker := (data[0] >> 6) & 0x03
	return frameMarker == 0x02
}

// OpenDetectedDecoder detects the codec from the first unit of a stream and
// opens a decoder context for it. cfg.Codec is overwritten with the detected
// codec.
func OpenDetectedDecoder(cfg DecoderConfig, first []byte) (*DecoderContext, error) {
	codec := DetectCodec(first)
	if codec == CodecUnknown {
		return nil, initErr(CodecUnknown, "cannot detect codec from bitstream", nil)
	}
	cfg.Codec = codec
	return OpenDecoder(cfg)
}
