//go:build (darwin || linux) && !nojpeg

// JPEG decoding via libpixbuf_jpeg using purego.
//
// The library is a thin wrapper around libturbojpeg. JPEG output is produced
// synchronously per unit, but the wrapper still pools its output buffers and
// reports them through the same allocated/recycled callback pair as the
// avcodec wrapper, so both providers drive an identical release protocol.
//
// Library locations checked (in order):
//   - PIXBUF_JPEG_LIB_PATH environment variable
//   - PIXBUF_SDK_LIB_PATH environment variable
//   - Executable-relative and build directories (development)
//   - System library paths

package pixbuf

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	jpegOnce    sync.Once
	jpegHandle  uintptr
	jpegInitErr error
	jpegLoaded  bool
)

// libpixbuf_jpeg function pointers
var (
	jpegOpen          func(width, height, format int32, allocCB, recycleCB uintptr, user uint64) uint64
	jpegDecode        func(ctx uint64, data uintptr, dataLen int32, result uintptr) int32
	jpegReleaseBuffer func(ctx uint64, buf uint64)
	jpegClose         func(ctx uint64)

	jpegGetError func() uintptr
)

// jpegDecodeResult matches pixbuf_jpeg_picture_t in C. Heap-allocated for the
// same arm64 output-parameter reason as avcodecDecodeResult.
type jpegDecodeResult struct {
	Buffer  uint64
	Plane0  uint64
	Plane1  uint64
	Plane2  uint64
	Stride0 int32
	Stride1 int32
	Stride2 int32
	Width   int32
	Height  int32
	Format  int32
	Result  int32
	_       int32 // Padding for alignment
}

func loadJPEG() error {
	jpegOnce.Do(func() {
		jpegInitErr = loadJPEGLib()
		if jpegInitErr == nil {
			jpegLoaded = true
		}
	})
	return jpegInitErr
}

func loadJPEGLib() error {
	paths := pixbufLibPaths("libpixbuf_jpeg", "PIXBUF_JPEG_LIB_PATH")

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			jpegHandle = handle
			loadJPEGSymbols()
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libpixbuf_jpeg: %w", lastErr)
	}
	return errors.New("libpixbuf_jpeg not found in any standard location")
}

func loadJPEGSymbols() {
	purego.RegisterLibFunc(&jpegOpen, jpegHandle, "pixbuf_jpeg_open")
	purego.RegisterLibFunc(&jpegDecode, jpegHandle, "pixbuf_jpeg_decode")
	purego.RegisterLibFunc(&jpegReleaseBuffer, jpegHandle, "pixbuf_jpeg_release_buffer")
	purego.RegisterLibFunc(&jpegClose, jpegHandle, "pixbuf_jpeg_close")

	purego.RegisterLibFunc(&jpegGetError, jpegHandle, "pixbuf_jpeg_get_error")
}

// IsJPEGAvailable checks if libpixbuf_jpeg is available.
func IsJPEGAvailable() bool {
	if err := loadJPEG(); err != nil {
		return false
	}
	return jpegLoaded
}

func getJPEGError() string {
	ptr := jpegGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// Callback dispatch, same token scheme as the avcodec binding.
var (
	jpegDispatchMu sync.Mutex
	jpegDispatch   = make(map[uint64]*jpegRuntime)
	jpegNextToken  uint64
)

func jpegRegisterDispatch(rt *jpegRuntime) uint64 {
	jpegDispatchMu.Lock()
	defer jpegDispatchMu.Unlock()
	jpegNextToken++
	jpegDispatch[jpegNextToken] = rt
	return jpegNextToken
}

func jpegLookupDispatch(token uint64) *jpegRuntime {
	jpegDispatchMu.Lock()
	defer jpegDispatchMu.Unlock()
	return jpegDispatch[token]
}

func jpegDropDispatch(token uint64) {
	jpegDispatchMu.Lock()
	defer jpegDispatchMu.Unlock()
	delete(jpegDispatch, token)
}

var (
	jpegAllocTrampoline = purego.NewCallback(func(user, buf, size uintptr) uintptr {
		defer func() { recover() }()
		if rt := jpegLookupDispatch(uint64(user)); rt != nil {
			rt.hooks.allocated(buf, int(size))
			return 0
		}
		return ^uintptr(0)
	})

	jpegRecycleTrampoline = purego.NewCallback(func(user, buf uintptr) uintptr {
		defer func() { recover() }()
		if rt := jpegLookupDispatch(uint64(user)); rt != nil {
			rt.hooks.recycled(buf)
			return 0
		}
		return ^uintptr(0)
	})
)

// jpegRuntime implements decoderRuntime over libpixbuf_jpeg.
type jpegRuntime struct {
	ctx   uint64
	token uint64
	hooks bufferHooks

	result *jpegDecodeResult
}

func newJPEGRuntime(cfg DecoderConfig, hooks bufferHooks) (decoderRuntime, error) {
	if err := loadJPEG(); err != nil {
		return nil, fmt.Errorf("jpeg decoder not available: %w", err)
	}

	format, ok := nativeFormatCodes[cfg.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported pixel format: %s", cfg.Format)
	}

	rt := &jpegRuntime{
		hooks:  hooks,
		result: &jpegDecodeResult{},
	}
	rt.token = jpegRegisterDispatch(rt)

	ctx := jpegOpen(int32(cfg.Width), int32(cfg.Height), format,
		jpegAllocTrampoline, jpegRecycleTrampoline, rt.token)
	if ctx == 0 {
		jpegDropDispatch(rt.token)
		return nil, fmt.Errorf("failed to open jpeg decoder: %s", getJPEGError())
	}
	rt.ctx = ctx
	return rt, nil
}

// Decode implements decoderRuntime. JPEG never buffers: a unit either yields
// a picture or an error.
func (rt *jpegRuntime) Decode(data []byte) (nativeFrame, bool, error) {
	out := rt.result
	*out = jpegDecodeResult{}

	res := jpegDecode(
		rt.ctx,
		uintptr(unsafe.Pointer(&data[0])),
		int32(len(data)),
		uintptr(unsafe.Pointer(out)),
	)

	runtime.KeepAlive(data)
	runtime.KeepAlive(out)

	if res <= 0 {
		return nativeFrame{}, false, fmt.Errorf("jpeg: %s", getJPEGError())
	}

	return nativeFrame{
		buffer: uintptr(out.Buffer),
		format: nativeFormatFromCode(out.Format),
		width:  int(out.Width),
		height: int(out.Height),
		planes: []uintptr{
			uintptr(out.Plane0),
			uintptr(out.Plane1),
			uintptr(out.Plane2),
		},
		strides: []int{
			int(out.Stride0),
			int(out.Stride1),
			int(out.Stride2),
		},
	}, true, nil
}

// Release implements decoderRuntime.
func (rt *jpegRuntime) Release(buf uintptr) {
	jpegReleaseBuffer(rt.ctx, uint64(buf))
}

// Close implements decoderRuntime.
func (rt *jpegRuntime) Close() {
	if rt.ctx != 0 {
		jpegClose(rt.ctx)
		rt.ctx = 0
	}
	jpegDropDispatch(rt.token)
}

func init() {
	if err := loadJPEG(); err != nil {
		return
	}
	setProviderAvailable(ProviderTurboJPEG)
	registerDecoderRuntime(CodecJPEG, ProviderTurboJPEG, newJPEGRuntime)
}
