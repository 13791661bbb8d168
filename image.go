package pixbuf

import (
	"fmt"
	"sync"
)

// PixelImage is the consumer-facing view of one decoded or captured picture.
//
// An image backed by a FrameHandle does not own its pixel memory: it holds the
// consumer-side release vote. Before such an image is dropped it must either
// Free (casting the vote) or ClonePixelData (copying every plane into Go-owned
// memory and then casting the vote). A plain in-memory image behaves the same
// minus the vote; no distinction is visible to the caller beyond ownership.
//
// Images may be handed to other goroutines freely; release and clone calls are
// serialized internally.
type PixelImage struct {
	mu sync.Mutex

	x, y          int
	width, height int
	format        PixelFormat
	planes        [][]byte
	strides       []int

	handle *FrameHandle
	// release casts the owner-side vote (frame handle consumer vote, or
	// capture buffer refcount decrement). Called at most once.
	release func()
	freed   bool

	// weak-tracking detach
	arena *imageArena
	slot  int
	gen   uint64
}

// NewPixelImage creates an independently-owned image over the given planes.
// The number of planes and strides must match the format's plane count.
func NewPixelImage(x, y, width, height int, format PixelFormat, planes [][]byte, strides []int) *PixelImage {
	n := format.PlaneCount()
	if n == 0 {
		lifecycleFault("image with unknown pixel format")
	}
	if len(planes) != n || len(strides) != n {
		lifecycleFault("%s image needs %d plane(s), got %d plane(s) / %d stride(s)",
			format, n, len(planes), len(strides))
	}
	return &PixelImage{
		x: x, y: y,
		width: width, height: height,
		format:  format,
		planes:  planes,
		strides: strides,
	}
}

// X returns the horizontal origin of the image within its source surface.
func (img *PixelImage) X() int { return img.x }

// Y returns the vertical origin of the image within its source surface.
func (img *PixelImage) Y() int { return img.y }

// Width returns the image width in pixels.
func (img *PixelImage) Width() int { return img.width }

// Height returns the image height in pixels.
func (img *PixelImage) Height() int { return img.height }

// Format returns the actual pixel format of the data, which may differ from
// the format the decoder context was opened with.
func (img *PixelImage) Format() PixelFormat {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.format
}

// Pixels returns the plane data: one slice for packed formats, one per plane
// for planar formats. The views are zero-copy while the backing buffer is
// live; accessing a released image is a lifecycle fault, never stale memory.
func (img *PixelImage) Pixels() [][]byte {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.freed {
		lifecycleFault("pixel access after release")
	}
	if img.handle != nil && img.handle.released() {
		lifecycleFault("pixel access after buffer release")
	}
	return img.planes
}

// Rowstride returns the stride of the first (or only) plane in bytes.
func (img *PixelImage) Rowstride() int {
	return img.strides[0]
}

// Rowstrides returns the per-plane strides in bytes.
func (img *PixelImage) Rowstrides() []int {
	return img.strides
}

// ClonePixelData copies every plane into newly allocated memory and releases
// the consumer-side vote on the backing buffer. After this call the image is
// fully independent of the decoder or capture pool. Idempotent.
func (img *PixelImage) ClonePixelData() {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.clonePixelDataLocked()
}

// drainClone is the teardown variant of ClonePixelData: an image the consumer
// freed between the drain snapshot and this call is simply skipped. Reports
// whether a clone was performed.
func (img *PixelImage) drainClone() bool {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.freed || (img.release == nil && img.handle == nil) {
		return false
	}
	img.clonePixelDataLocked()
	return true
}

func (img *PixelImage) clonePixelDataLocked() {
	if img.freed {
		lifecycleFault("clone after release")
	}
	if img.release == nil && img.handle == nil {
		return // already independent
	}

	owned := make([][]byte, len(img.planes))
	for i, plane := range img.planes {
		owned[i] = make([]byte, len(plane))
		copy(owned[i], plane)
	}
	img.planes = owned
	img.detachLocked()
}

// Free releases the consumer-side vote without copying. Only safe when the
// caller will not touch the pixels again; any later Pixels call faults.
// Idempotent.
func (img *PixelImage) Free() {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.freed {
		return
	}
	img.detachLocked()
	img.planes = nil
	img.freed = true
}

func (img *PixelImage) detachLocked() {
	if img.arena != nil {
		img.arena.drop(img.slot, img.gen)
		img.arena = nil
	}
	if img.release != nil {
		img.release()
		img.release = nil
	}
	img.handle = nil
}

// MergeAlpha composites a separately decoded alpha plane into the alpha (or
// padding) channel of a 4-byte packed image, one pixel at a time, byte-exact.
// The image is cloned first if it still references a decode buffer, so the
// merge never writes into runtime-owned memory.
func (img *PixelImage) MergeAlpha(alpha []byte, alphaStride int) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.freed {
		lifecycleFault("alpha merge after release")
	}
	off, ok := img.format.alphaOffset()
	if !ok {
		return fmt.Errorf("cannot merge alpha into %s: %w", img.format, ErrNotSupported)
	}
	if alphaStride < img.width {
		return fmt.Errorf("alpha stride %d shorter than width %d", alphaStride, img.width)
	}
	if len(alpha) < (img.height-1)*alphaStride+img.width {
		return fmt.Errorf("alpha plane too small: %d bytes for %dx%d", len(alpha), img.width, img.height)
	}

	img.clonePixelDataLocked()

	dst := img.planes[0]
	stride := img.strides[0]
	for row := 0; row < img.height; row++ {
		src := alpha[row*alphaStride:]
		out := dst[row*stride:]
		for col := 0; col < img.width; col++ {
			out[col*4+off] = src[col]
		}
	}
	img.format = img.format.withAlpha()
	return nil
}
