package pixbuf

import (
	"fmt"
	"sync"
)

// segment is attached shared memory backing a capture buffer. Implemented by
// the SysV shm attachment on unix and by plain Go slices in tests.
type segment interface {
	bytes() []byte
	detach() error
}

// CaptureBuffer is a screen-capture surface backed by a shared-memory segment
// written by an external producer (typically an X server via MIT-SHM).
//
// Views returned by View share the segment zero-copy and each hold one
// reference. The segment is detached exactly once, when the buffer has been
// closed and the last view has been freed or cloned, in whichever order those
// happen. A closed buffer rejects new views but existing ones stay valid
// until released.
type CaptureBuffer struct {
	mu sync.Mutex

	seg    segment
	width  int
	height int
	stride int
	format PixelFormat

	refs     int
	closing  bool
	detached bool
}

// AttachCapture attaches the SysV shared-memory segment shmID as a capture
// buffer of the given geometry. format must be packed; the producer writes
// rows of stride bytes. The mapping is validated to cover height+1 rows: the
// extra guard row absorbs producer overreads at the bottom edge.
func AttachCapture(shmID int, width, height, stride int, format PixelFormat) (*CaptureBuffer, error) {
	if format.IsPlanar() || format.PlaneCount() != 1 {
		return nil, fmt.Errorf("capture format must be packed, got %s: %w", format, ErrNotSupported)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", width, height)
	}
	if stride < width*format.BytesPerPixel() {
		return nil, fmt.Errorf("capture stride %d shorter than row size %d", stride, width*format.BytesPerPixel())
	}

	seg, err := attachShm(shmID)
	if err != nil {
		return nil, fmt.Errorf("shm attach failed: %w", err)
	}
	need := (height + 1) * stride
	if len(seg.bytes()) < need {
		seg.detach()
		return nil, fmt.Errorf("shm segment too small: %d bytes, need %d", len(seg.bytes()), need)
	}
	return newCaptureBuffer(seg, width, height, stride, format), nil
}

func newCaptureBuffer(seg segment, width, height, stride int, format PixelFormat) *CaptureBuffer {
	return &CaptureBuffer{
		seg:    seg,
		width:  width,
		height: height,
		stride: stride,
		format: format,
	}
}

// Width returns the capture surface width in pixels.
func (b *CaptureBuffer) Width() int { return b.width }

// Height returns the capture surface height in pixels.
func (b *CaptureBuffer) Height() int { return b.height }

// Format returns the pixel format written by the producer.
func (b *CaptureBuffer) Format() PixelFormat { return b.format }

// View returns a zero-copy image over the rectangle (x, y, w, h) of the
// capture surface. The image holds a reference on the buffer; Free or
// ClonePixelData drops it.
func (b *CaptureBuffer) View(x, y, w, h int) (*PixelImage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closing {
		return nil, fmt.Errorf("capture buffer: %w", ErrClosed)
	}
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > b.width || y+h > b.height {
		return nil, fmt.Errorf("view (%d,%d %dx%d) outside capture surface %dx%d",
			x, y, w, h, b.width, b.height)
	}

	bpp := b.format.BytesPerPixel()
	offset := y*b.stride + x*bpp
	// Last row extends only to its pixel data, plus the guard row beneath it.
	length := (h-1)*b.stride + w*bpp + b.stride
	data := b.seg.bytes()[offset : offset+length]

	b.refs++
	img := NewPixelImage(x, y, w, h, b.format, [][]byte{data}, []int{b.stride})
	img.release = b.release
	return img, nil
}

func (b *CaptureBuffer) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs <= 0 {
		lifecycleFault("capture buffer released more times than referenced")
	}
	b.refs--
	b.maybeDetachLocked()
}

// Close marks the buffer as closing. New views are rejected; the segment is
// detached once the last outstanding view is released. Idempotent.
func (b *CaptureBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closing = true
	b.maybeDetachLocked()
	return nil
}

func (b *CaptureBuffer) maybeDetachLocked() {
	if b.refs == 0 && b.closing && !b.detached {
		b.detached = true
		b.seg.detach()
	}
}

// Refs returns the number of outstanding views.
func (b *CaptureBuffer) Refs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}
