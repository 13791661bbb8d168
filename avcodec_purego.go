//go:build (darwin || linux) && !noavcodec

// H.264/VP8/VP9/MPEG-4 decoding via libpixbuf_avcodec using purego.
//
// The library is a thin wrapper around libavcodec with a primitive-only API.
// It owns the decode buffer pool; buffer traffic is reported through two
// callbacks registered at open time (allocated / recycled), and the single
// native free per buffer is pixbuf_avcodec_release_buffer, driven by the
// frame-handle vote protocol.
//
// Library locations checked (in order):
//   - PIXBUF_AVCODEC_LIB_PATH environment variable
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
	avcodecOnce    sync.Once
	avcodecHandle  uintptr
	avcodecInitErr error
	avcodecLoaded  bool
)

// libpixbuf_avcodec function pointers
var (
	avcodecOpen          func(codec, width, height, format, threads int32, allocCB, recycleCB uintptr, user uint64) uint64
	avcodecDecode        func(ctx uint64, data uintptr, dataLen int32, result uintptr) int32
	avcodecReleaseBuffer func(ctx uint64, buf uint64)
	avcodecClose         func(ctx uint64)

	avcodecGetError       func() uintptr
	avcodecCodecAvailable func(codec int32) int32
)

// Constants from pixbuf_avcodec.h
const (
	avcodecCodecH264  = 0
	avcodecCodecVP8   = 1
	avcodecCodecVP9   = 2
	avcodecCodecMPEG4 = 3

	avcodecOK           = 0
	avcodecError        = -1
	avcodecErrorNoMem   = -2
	avcodecErrorInvalid = -3
	avcodecErrorCodec   = -4
)

// avcodecDecodeResult matches pixbuf_avcodec_picture_t in C.
// This struct must be heap-allocated for purego to work correctly on arm64:
// output parameters on the Go stack can fail if the GC moves the stack during
// the C call.
type avcodecDecodeResult struct {
	Buffer  uint64 // Pool buffer identity, as announced via the alloc callback
	Plane0  uint64 // First plane pointer
	Plane1  uint64 // Second plane pointer (planar formats)
	Plane2  uint64 // Third plane pointer (planar formats)
	Stride0 int32
	Stride1 int32
	Stride2 int32
	Width   int32
	Height  int32
	Format  int32 // Actual output format code
	Result  int32 // 1=picture, 0=buffering, <0=error
	_       int32 // Padding for alignment
}

func loadAVCodec() error {
	avcodecOnce.Do(func() {
		avcodecInitErr = loadAVCodecLib()
		if avcodecInitErr == nil {
			avcodecLoaded = true
		}
	})
	return avcodecInitErr
}

func loadAVCodecLib() error {
	paths := pixbufLibPaths("libpixbuf_avcodec", "PIXBUF_AVCODEC_LIB_PATH")

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			avcodecHandle = handle
			loadAVCodecSymbols()
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libpixbuf_avcodec: %w", lastErr)
	}
	return errors.New("libpixbuf_avcodec not found in any standard location")
}

func loadAVCodecSymbols() {
	purego.RegisterLibFunc(&avcodecOpen, avcodecHandle, "pixbuf_avcodec_open")
	purego.RegisterLibFunc(&avcodecDecode, avcodecHandle, "pixbuf_avcodec_decode")
	purego.RegisterLibFunc(&avcodecReleaseBuffer, avcodecHandle, "pixbuf_avcodec_release_buffer")
	purego.RegisterLibFunc(&avcodecClose, avcodecHandle, "pixbuf_avcodec_close")

	purego.RegisterLibFunc(&avcodecGetError, avcodecHandle, "pixbuf_avcodec_get_error")
	purego.RegisterLibFunc(&avcodecCodecAvailable, avcodecHandle, "pixbuf_avcodec_codec_available")
}

// IsAVCodecAvailable checks if libpixbuf_avcodec is available.
func IsAVCodecAvailable() bool {
	if err := loadAVCodec(); err != nil {
		return false
	}
	return avcodecLoaded
}

func getAVCodecError() string {
	ptr := avcodecGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// Callback dispatch. The native wrapper calls back with the user token we
// supplied at open time; the token indexes a mutex-guarded table of live
// runtimes. Tokens are our own allocation, never raw native pointers, so the
// table stays valid across any number of concurrent contexts.
var (
	avcodecDispatchMu sync.Mutex
	avcodecDispatch   = make(map[uint64]*avcodecRuntime)
	avcodecNextToken  uint64
)

func avcodecRegisterDispatch(rt *avcodecRuntime) uint64 {
	avcodecDispatchMu.Lock()
	defer avcodecDispatchMu.Unlock()
	avcodecNextToken++
	avcodecDispatch[avcodecNextToken] = rt
	return avcodecNextToken
}

func avcodecLookupDispatch(token uint64) *avcodecRuntime {
	avcodecDispatchMu.Lock()
	defer avcodecDispatchMu.Unlock()
	return avcodecDispatch[token]
}

func avcodecDropDispatch(token uint64) {
	avcodecDispatchMu.Lock()
	defer avcodecDispatchMu.Unlock()
	delete(avcodecDispatch, token)
}

// The two callback trampolines are created once; purego callbacks are a
// process-wide finite resource. A panic must never unwind into runtime code,
// so both bodies recover and report failure through the return value instead.
var (
	avcodecAllocTrampoline = purego.NewCallback(func(user, buf, size uintptr) uintptr {
		defer func() { recover() }()
		if rt := avcodecLookupDispatch(uint64(user)); rt != nil {
			rt.hooks.allocated(buf, int(size))
			return 0
		}
		return ^uintptr(0)
	})

	avcodecRecycleTrampoline = purego.NewCallback(func(user, buf uintptr) uintptr {
		defer func() { recover() }()
		if rt := avcodecLookupDispatch(uint64(user)); rt != nil {
			rt.hooks.recycled(buf)
			return 0
		}
		return ^uintptr(0)
	})
)

// avcodecRuntime implements decoderRuntime over libpixbuf_avcodec.
type avcodecRuntime struct {
	ctx   uint64
	token uint64
	hooks bufferHooks

	// Persistent heap-allocated output struct, see avcodecDecodeResult.
	result *avcodecDecodeResult
}

func newAVCodecRuntime(cfg DecoderConfig, hooks bufferHooks) (decoderRuntime, error) {
	if err := loadAVCodec(); err != nil {
		return nil, fmt.Errorf("%s decoder not available: %w", cfg.Codec, err)
	}

	var codec int32
	switch cfg.Codec {
	case CodecH264:
		codec = avcodecCodecH264
	case CodecVP8:
		codec = avcodecCodecVP8
	case CodecVP9:
		codec = avcodecCodecVP9
	case CodecMPEG4:
		codec = avcodecCodecMPEG4
	default:
		return nil, fmt.Errorf("unsupported codec: %s", cfg.Codec)
	}

	format, ok := nativeFormatCodes[cfg.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported pixel format: %s", cfg.Format)
	}

	threads := int32(cfg.Threads)
	if threads <= 0 {
		threads = 0 // wrapper picks per-codec default
	}

	rt := &avcodecRuntime{
		hooks:  hooks,
		result: &avcodecDecodeResult{},
	}
	rt.token = avcodecRegisterDispatch(rt)

	ctx := avcodecOpen(codec, int32(cfg.Width), int32(cfg.Height), format, threads,
		avcodecAllocTrampoline, avcodecRecycleTrampoline, rt.token)
	if ctx == 0 {
		avcodecDropDispatch(rt.token)
		return nil, fmt.Errorf("failed to open %s decoder: %s", cfg.Codec, getAVCodecError())
	}
	rt.ctx = ctx
	return rt, nil
}

// Decode implements decoderRuntime.
func (rt *avcodecRuntime) Decode(data []byte) (nativeFrame, bool, error) {
	out := rt.result
	*out = avcodecDecodeResult{}

	res := avcodecDecode(
		rt.ctx,
		uintptr(unsafe.Pointer(&data[0])),
		int32(len(data)),
		uintptr(unsafe.Pointer(out)),
	)

	runtime.KeepAlive(data)
	// Keep the struct alive during and after the C call
	runtime.KeepAlive(out)

	if res < 0 {
		return nativeFrame{}, false, fmt.Errorf("avcodec: %s", getAVCodecError())
	}
	if res == 0 {
		return nativeFrame{}, false, nil // buffering
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

// Release implements decoderRuntime. The wrapper serializes pool mutation
// internally, so this is safe from whichever goroutine casts the last vote.
func (rt *avcodecRuntime) Release(buf uintptr) {
	avcodecReleaseBuffer(rt.ctx, uint64(buf))
}

// Close implements decoderRuntime.
func (rt *avcodecRuntime) Close() {
	if rt.ctx != 0 {
		avcodecClose(rt.ctx)
		rt.ctx = 0
	}
	avcodecDropDispatch(rt.token)
}

// Register runtimes for the codecs libavcodec provides.
func init() {
	if err := loadAVCodec(); err != nil {
		return
	}

	codecs := map[Codec]int32{
		CodecH264:  avcodecCodecH264,
		CodecVP8:   avcodecCodecVP8,
		CodecVP9:   avcodecCodecVP9,
		CodecMPEG4: avcodecCodecMPEG4,
	}
	for codec, code := range codecs {
		if avcodecCodecAvailable(code) != 0 {
			setProviderAvailable(ProviderAVCodec)
			registerDecoderRuntime(codec, ProviderAVCodec, newAVCodecRuntime)
		}
	}
}
