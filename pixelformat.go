package pixbuf

// PixelFormat identifies the layout of decoded pixel data. The string form of
// each value is the tag used across the decoder boundary and must not change.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatYUV420P             // Planar YUV, chroma at half width and half height
	PixelFormatYUV422P             // Planar YUV, chroma at half width
	PixelFormatYUV444P             // Planar YUV, full-resolution chroma
	PixelFormatRGB                 // Packed RGB, 3 bytes per pixel
	PixelFormatBGR                 // Packed BGR, 3 bytes per pixel
	PixelFormatRGBX                // Packed RGB + padding byte
	PixelFormatBGRX                // Packed BGR + padding byte
	PixelFormatXRGB                // Padding byte + packed RGB
	PixelFormatBGRA                // Packed BGR + alpha
	PixelFormatARGB                // Alpha + packed RGB
	PixelFormatGBRP                // Planar RGB (G, B, R planes), full resolution
)

var pixelFormatTags = map[PixelFormat]string{
	PixelFormatYUV420P: "YUV420P",
	PixelFormatYUV422P: "YUV422P",
	PixelFormatYUV444P: "YUV444P",
	PixelFormatRGB:     "RGB",
	PixelFormatBGR:     "BGR",
	PixelFormatRGBX:    "RGBX",
	PixelFormatBGRX:    "BGRX",
	PixelFormatXRGB:    "XRGB",
	PixelFormatBGRA:    "BGRA",
	PixelFormatARGB:    "ARGB",
	PixelFormatGBRP:    "GBRP",
}

func (p PixelFormat) String() string {
	if tag, ok := pixelFormatTags[p]; ok {
		return tag
	}
	return "Unknown"
}

// ParsePixelFormat resolves a format tag. The second return value is false
// for unrecognized tags.
func ParsePixelFormat(tag string) (PixelFormat, bool) {
	for f, t := range pixelFormatTags {
		if t == tag {
			return f, true
		}
	}
	return PixelFormatUnknown, false
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatYUV420P, PixelFormatYUV422P, PixelFormatYUV444P, PixelFormatGBRP:
		return 3
	case PixelFormatRGB, PixelFormatBGR,
		PixelFormatRGBX, PixelFormatBGRX, PixelFormatXRGB,
		PixelFormatBGRA, PixelFormatARGB:
		return 1
	default:
		return 0
	}
}

// IsPlanar returns true for formats whose planes are stored separately.
func (p PixelFormat) IsPlanar() bool {
	return p.PlaneCount() > 1
}

// BytesPerPixel returns the bytes per pixel of a packed format, or 1 for the
// per-plane samples of a planar format.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatRGB, PixelFormatBGR:
		return 3
	case PixelFormatRGBX, PixelFormatBGRX, PixelFormatXRGB,
		PixelFormatBGRA, PixelFormatARGB:
		return 4
	case PixelFormatYUV420P, PixelFormatYUV422P, PixelFormatYUV444P, PixelFormatGBRP:
		return 1
	default:
		return 0
	}
}

// Subsampling returns the horizontal and vertical subsampling divisors of one
// plane. The divisors are fixed per format tag: the luma plane (and every
// plane of a full-resolution format) is 1/1, YUV420P chroma is 2/2, YUV422P
// chroma is 2/1.
func (p PixelFormat) Subsampling(plane int) (xdiv, ydiv int) {
	if plane < 0 || plane >= p.PlaneCount() {
		lifecycleFault("subsampling for plane %d of %d-plane format %s", plane, p.PlaneCount(), p)
	}
	if plane == 0 {
		return 1, 1
	}
	switch p {
	case PixelFormatYUV420P:
		return 2, 2
	case PixelFormatYUV422P:
		return 2, 1
	case PixelFormatYUV444P, PixelFormatGBRP:
		return 1, 1
	}
	return 1, 1
}

// PlaneHeight returns the number of rows in one plane for an image of the
// given height. A height not divisible by the vertical divisor rounds up.
func (p PixelFormat) PlaneHeight(height, plane int) int {
	_, ydiv := p.Subsampling(plane)
	if ydiv <= 0 {
		lifecycleFault("invalid vertical subsampling divisor %d for %s", ydiv, p)
	}
	return (height + ydiv - 1) / ydiv
}

// PlaneWidth returns the number of pixels per row in one plane.
func (p PixelFormat) PlaneWidth(width, plane int) int {
	xdiv, _ := p.Subsampling(plane)
	if xdiv <= 0 {
		lifecycleFault("invalid horizontal subsampling divisor %d for %s", xdiv, p)
	}
	return (width + xdiv - 1) / xdiv
}

// PlaneSize returns the byte size of one plane given the image height and the
// plane's stride: ceil(height/ydiv) * stride.
func (p PixelFormat) PlaneSize(height, stride, plane int) int {
	return p.PlaneHeight(height, plane) * stride
}

// alphaOffset returns the byte offset of the alpha (or padding) channel inside
// one pixel of a 4-byte packed format.
func (p PixelFormat) alphaOffset() (int, bool) {
	switch p {
	case PixelFormatRGBX, PixelFormatBGRX, PixelFormatBGRA:
		return 3, true
	case PixelFormatXRGB, PixelFormatARGB:
		return 0, true
	default:
		return 0, false
	}
}

// withAlpha maps a padded packed format to its alpha-carrying equivalent.
func (p PixelFormat) withAlpha() PixelFormat {
	switch p {
	case PixelFormatBGRX, PixelFormatBGRA:
		return PixelFormatBGRA
	case PixelFormatXRGB, PixelFormatARGB:
		return PixelFormatARGB
	default:
		return p
	}
}
