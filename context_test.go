package pixbuf

import (
	"bytes"
	"errors"
	"testing"
	"unsafe"
)

// fakeRuntime is a scripted decoderRuntime backed by Go memory, so the full
// buffer protocol (alloc hook, recycle vote, release convergence, drain) runs
// without a native library.
type fakeRuntime struct {
	cfg   DecoderConfig
	hooks bufferHooks

	format PixelFormat

	nextID   uintptr
	backing  map[uintptr][][]byte
	released map[uintptr]int
	closed   bool

	// script knobs, consumed by the next Decode call
	failNext    bool
	bufferNext  bool      // announce a buffer, produce no picture
	recycleNext []uintptr // runtime-side votes cast before decoding
	heldBuf     uintptr   // buffer announced while buffering
}

func newFakeRuntime(cfg DecoderConfig, hooks bufferHooks) *fakeRuntime {
	return &fakeRuntime{
		cfg:      cfg,
		hooks:    hooks,
		format:   cfg.Format,
		nextID:   0x1000,
		backing:  make(map[uintptr][][]byte),
		released: make(map[uintptr]int),
	}
}

func (rt *fakeRuntime) factory() runtimeFactory {
	return func(cfg DecoderConfig, hooks bufferHooks) (decoderRuntime, error) {
		rt.cfg = cfg
		rt.hooks = hooks
		if rt.format == PixelFormatUnknown {
			rt.format = cfg.Format
		}
		return rt, nil
	}
}

// allocate announces one pool buffer sized for a full picture in rt.format.
// Each plane is its own allocation, so the plane pointers handed out by
// frameFor point at allocation starts the way a native pool's would.
func (rt *fakeRuntime) allocate() (uintptr, []int, int) {
	w, h := rt.cfg.Width, rt.cfg.Height
	strides := make([]int, rt.format.PlaneCount())
	planes := make([][]byte, len(strides))
	total := 0
	for i := range strides {
		strides[i] = rt.format.PlaneWidth(w, i)
		size := rt.format.PlaneSize(h, strides[i], i)
		planes[i] = make([]byte, size)
		total += size
	}

	id := rt.nextID
	rt.nextID += 0x100
	rt.backing[id] = planes
	rt.hooks.allocated(id, total)
	return id, strides, total
}

func (rt *fakeRuntime) frameFor(id uintptr, strides []int) nativeFrame {
	data := rt.backing[id]
	planes := make([]uintptr, len(strides))
	for i := range strides {
		planes[i] = uintptr(unsafe.Pointer(&data[i][0]))
	}
	return nativeFrame{
		buffer:  id,
		format:  rt.format,
		width:   rt.cfg.Width,
		height:  rt.cfg.Height,
		planes:  planes,
		strides: strides,
	}
}

func (rt *fakeRuntime) Decode(data []byte) (nativeFrame, bool, error) {
	for _, buf := range rt.recycleNext {
		rt.hooks.recycled(buf)
	}
	rt.recycleNext = nil

	if rt.failNext {
		rt.failNext = false
		// A buffer was taken for the picture before the unit turned out to be
		// garbage. The runtime recycles it; the context covers the other vote.
		id, _, _ := rt.allocate()
		rt.hooks.recycled(id)
		return nativeFrame{}, false, errors.New("bitstream error")
	}
	if rt.bufferNext {
		rt.bufferNext = false
		id, _, _ := rt.allocate()
		rt.heldBuf = id
		return nativeFrame{}, false, nil
	}
	if rt.heldBuf != 0 {
		// The delayed picture comes out now, in a buffer announced earlier.
		id := rt.heldBuf
		rt.heldBuf = 0
		strides := make([]int, rt.format.PlaneCount())
		for i := range strides {
			strides[i] = rt.format.PlaneWidth(rt.cfg.Width, i)
		}
		return rt.frameFor(id, strides), true, nil
	}

	id, strides, _ := rt.allocate()
	for _, plane := range rt.backing[id] {
		for i := range plane {
			plane[i] = data[0]
		}
	}
	return rt.frameFor(id, strides), true, nil
}

func (rt *fakeRuntime) Release(buf uintptr) {
	if _, ok := rt.backing[buf]; !ok {
		panic("release of unknown buffer")
	}
	rt.released[buf]++
	if rt.released[buf] > 1 {
		panic("double release of one buffer")
	}
}

func (rt *fakeRuntime) Close() { rt.closed = true }

func (rt *fakeRuntime) outstandingBuffers() int {
	return len(rt.backing) - len(rt.released)
}

func testDecoderConfig() DecoderConfig {
	return DecoderConfig{
		Codec:  CodecVP8,
		Width:  32,
		Height: 24,
		Format: PixelFormatYUV420P,
	}
}

func openFakeDecoder(t *testing.T, cfg DecoderConfig) (*DecoderContext, *fakeRuntime) {
	t.Helper()
	rt := newFakeRuntime(cfg, bufferHooks{})
	ctx, err := openWith(cfg, ProviderAVCodec, rt.factory())
	if err != nil {
		t.Fatal(err)
	}
	return ctx, rt
}

func testUnit(b byte) *Unit {
	return &Unit{Data: []byte{b, 1, 2, 3}, Keyframe: true}
}

func TestDecodeLifecycle(t *testing.T) {
	ctx, rt := openFakeDecoder(t, testDecoderConfig())

	var images []*PixelImage
	for i := 0; i < 10; i++ {
		if i == 5 {
			rt.failNext = true
		}
		img, err := ctx.Decode(testUnit(byte(i + 1)))
		if i == 5 {
			var derr *DecodeError
			if !errors.As(err, &derr) || derr.Code != DecodeErrNative {
				t.Fatalf("unit 5: got %v, want native decode error", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unit %d: %v", i, err)
		}
		if img == nil {
			t.Fatalf("unit %d produced no image", i)
		}
		images = append(images, img)
	}

	if len(images) != 9 {
		t.Fatalf("got %d images, want 9", len(images))
	}
	stats := ctx.Stats()
	if stats.FramesDecoded != 9 || stats.DecodeErrors != 1 {
		t.Errorf("stats = %+v, want 9 frames / 1 error", stats)
	}
	if stats.BytesDecoded != 9*4 {
		t.Errorf("BytesDecoded = %d, want %d", stats.BytesDecoded, 9*4)
	}

	for _, img := range images {
		if got := img.Pixels()[0][0]; got == 0 {
			t.Error("image plane not backed by decoded data")
		}
		img.Free()
	}
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
	if !rt.closed {
		t.Error("runtime not closed")
	}
	if n := rt.outstandingBuffers(); n != 0 {
		t.Errorf("%d buffers never released", n)
	}
}

func TestDecodeBuffering(t *testing.T) {
	ctx, rt := openFakeDecoder(t, testDecoderConfig())

	rt.bufferNext = true
	img, err := ctx.Decode(testUnit(1))
	if err != nil || img != nil {
		t.Fatalf("buffering decode = (%v, %v), want (nil, nil)", img, err)
	}
	if ctx.Stats().FramesDecoded != 0 {
		t.Error("buffering counted as a decoded frame")
	}

	// Next unit flushes the delayed picture out of the held buffer.
	img, err = ctx.Decode(testUnit(2))
	if err != nil {
		t.Fatal(err)
	}
	if img == nil {
		t.Fatal("delayed picture never produced")
	}
	img.Free()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
	if n := rt.outstandingBuffers(); n != 0 {
		t.Errorf("%d buffers never released", n)
	}
}

func TestCloseWhileBuffering(t *testing.T) {
	ctx, rt := openFakeDecoder(t, testDecoderConfig())

	// The runtime holds a buffer for a delayed picture that never comes.
	rt.bufferNext = true
	img, err := ctx.Decode(testUnit(1))
	if err != nil || img != nil {
		t.Fatalf("buffering decode = (%v, %v), want (nil, nil)", img, err)
	}

	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
	if !rt.closed {
		t.Error("runtime not closed")
	}
	if n := rt.outstandingBuffers(); n != 0 {
		t.Errorf("%d buffers never released", n)
	}
	if got := ctx.Stats().ImagesCloned; got != 0 {
		t.Errorf("ImagesCloned = %d, want 0", got)
	}
}

func TestDecodeErrorWhileBufferHeld(t *testing.T) {
	ctx, rt := openFakeDecoder(t, testDecoderConfig())

	// Unit 1 goes into a buffer the runtime holds for a delayed picture.
	rt.bufferNext = true
	if _, err := ctx.Decode(testUnit(1)); err != nil {
		t.Fatal(err)
	}
	held := rt.heldBuf

	// Unit 2 fails. Only its own buffer may be torn down, never the held one.
	rt.failNext = true
	if _, err := ctx.Decode(testUnit(2)); err == nil {
		t.Fatal("scripted failure produced no error")
	}
	if rt.released[held] != 0 {
		t.Fatal("held buffer torn down by an unrelated decode failure")
	}

	// Unit 3 flushes the delayed picture out of the held buffer.
	img, err := ctx.Decode(testUnit(3))
	if err != nil {
		t.Fatal(err)
	}
	if img == nil || img.handle.buf != held {
		t.Fatal("delayed picture not produced from the held buffer")
	}

	// The runtime recycles it; the image must still keep the memory alive.
	rt.recycleNext = []uintptr{held}
	img2, err := ctx.Decode(testUnit(4))
	if err != nil {
		t.Fatal(err)
	}
	if rt.released[held] != 0 {
		t.Fatal("buffer released while an image still references it")
	}
	_ = img.Pixels()

	img.Free()
	if rt.released[held] != 1 {
		t.Error("votes converged but buffer not released")
	}

	img2.Free()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
	if n := rt.outstandingBuffers(); n != 0 {
		t.Errorf("%d buffers never released", n)
	}
}

func TestDecodeAlphaMergeError(t *testing.T) {
	ctx, rt := openFakeDecoder(t, testDecoderConfig())

	// Planar output has no alpha channel to merge into, so the merge fails;
	// the decoded image still comes back and the caller owns it.
	alpha := make([]byte, 32*24)
	img, err := ctx.DecodeWithOptions(testUnit(1), &DecodeOptions{Alpha: alpha, AlphaStride: 32})
	var derr *DecodeError
	if !errors.As(err, &derr) || derr.Code != DecodeErrAlphaMerge {
		t.Fatalf("got %v, want alpha-merge error", err)
	}
	if img == nil {
		t.Fatal("image dropped on alpha-merge failure")
	}
	if img.Format() != PixelFormatYUV420P {
		t.Errorf("image format = %v, want YUV420P", img.Format())
	}

	img.Free()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
	if n := rt.outstandingBuffers(); n != 0 {
		t.Errorf("%d buffers never released", n)
	}
}

func TestDecodeRuntimeRecycleBeforeConsumerFree(t *testing.T) {
	ctx, rt := openFakeDecoder(t, testDecoderConfig())

	img, err := ctx.Decode(testUnit(7))
	if err != nil {
		t.Fatal(err)
	}
	buf := img.handle.buf

	// Runtime recycles the buffer during the next decode call; the image must
	// keep it alive until the consumer vote.
	rt.recycleNext = []uintptr{buf}
	img2, err := ctx.Decode(testUnit(8))
	if err != nil {
		t.Fatal(err)
	}
	if rt.released[buf] != 0 {
		t.Fatal("buffer released while an image still references it")
	}
	if got := img.Pixels()[0][0]; got != 7 {
		t.Errorf("pixel data = %d, want 7", got)
	}

	img.Free()
	if rt.released[buf] != 1 {
		t.Error("votes converged but buffer not released")
	}

	img2.Free()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeConsumerFreeBeforeRuntimeRecycle(t *testing.T) {
	ctx, rt := openFakeDecoder(t, testDecoderConfig())

	img, err := ctx.Decode(testUnit(3))
	if err != nil {
		t.Fatal(err)
	}
	buf := img.handle.buf

	img.Free()
	if rt.released[buf] != 0 {
		t.Fatal("buffer released before the runtime recycled it")
	}

	rt.recycleNext = []uintptr{buf}
	img2, err := ctx.Decode(testUnit(4))
	if err != nil {
		t.Fatal(err)
	}
	if rt.released[buf] != 1 {
		t.Error("votes converged but buffer not released")
	}

	img2.Free()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCloseDrainsOutstandingImages(t *testing.T) {
	ctx, rt := openFakeDecoder(t, testDecoderConfig())

	img, err := ctx.Decode(testUnit(9))
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte(nil), img.Pixels()[0]...)

	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
	if !rt.closed {
		t.Fatal("runtime not closed")
	}
	if n := rt.outstandingBuffers(); n != 0 {
		t.Fatalf("%d buffers never released", n)
	}

	// The image survives the teardown with its content intact.
	if !bytes.Equal(img.Pixels()[0], want) {
		t.Error("drained image lost its pixel data")
	}
	if got := ctx.Stats().ImagesCloned; got != 1 {
		t.Errorf("ImagesCloned = %d, want 1", got)
	}
	img.Free()
}

func TestCloseIdempotent(t *testing.T) {
	ctx, _ := openFakeDecoder(t, testDecoderConfig())
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeAfterClosePanics(t *testing.T) {
	ctx, _ := openFakeDecoder(t, testDecoderConfig())
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Error("Decode on closed context did not panic")
		}
	}()
	ctx.Decode(testUnit(1))
}

func TestDecodeEmptyUnit(t *testing.T) {
	ctx, _ := openFakeDecoder(t, testDecoderConfig())
	defer ctx.Close()

	for _, unit := range []*Unit{nil, {}, {Data: []byte{}}} {
		_, err := ctx.Decode(unit)
		var derr *DecodeError
		if !errors.As(err, &derr) || derr.Code != DecodeErrEmptyUnit {
			t.Errorf("Decode(%v) = %v, want empty-unit error", unit, err)
		}
	}
	if ctx.Stats().DecodeErrors != 0 {
		t.Error("empty units counted as decode errors")
	}
}

func TestDecodeUnknownBuffer(t *testing.T) {
	// A frame in a buffer that was never announced through the alloc hook.
	frame := nativeFrame{
		buffer:  0xDEAD000,
		format:  PixelFormatYUV420P,
		width:   32,
		height:  24,
		planes:  make([]uintptr, 3),
		strides: []int{32, 16, 16},
	}
	ctx, err := openWith(testDecoderConfig(), ProviderAVCodec, func(cfg DecoderConfig, hooks bufferHooks) (decoderRuntime, error) {
		return &scriptedRuntime{frame: frame}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	_, err = ctx.Decode(testUnit(1))
	var derr *DecodeError
	if !errors.As(err, &derr) || derr.Code != DecodeErrUnknownBuffer {
		t.Errorf("got %v, want unknown-buffer error", err)
	}
	if ctx.Stats().DecodeErrors != 1 {
		t.Error("unknown buffer not counted as a decode error")
	}
}

// scriptedRuntime returns one canned frame without calling any hooks.
type scriptedRuntime struct {
	frame nativeFrame
}

func (s *scriptedRuntime) Decode(data []byte) (nativeFrame, bool, error) {
	return s.frame, true, nil
}
func (s *scriptedRuntime) Release(buf uintptr) {}
func (s *scriptedRuntime) Close()              {}

func TestDecodeFormatSubstitution(t *testing.T) {
	cfg := testDecoderConfig()
	cfg.Format = PixelFormatYUV420P

	rt := newFakeRuntime(cfg, bufferHooks{})
	rt.format = PixelFormatGBRP
	ctx, err := openWith(cfg, ProviderAVCodec, rt.factory())
	if err != nil {
		t.Fatal(err)
	}

	img, err := ctx.Decode(testUnit(1))
	if err != nil {
		t.Fatal(err)
	}
	if img.Format() != PixelFormatGBRP {
		t.Errorf("image format = %v, want GBRP", img.Format())
	}

	info := ctx.Info()
	if info["format"] != "YUV420P" {
		t.Errorf("nominal format = %v, want YUV420P", info["format"])
	}
	if info["actual_format"] != "GBRP" {
		t.Errorf("actual format = %v, want GBRP", info["actual_format"])
	}

	img.Free()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenWithValidation(t *testing.T) {
	rt := newFakeRuntime(DecoderConfig{}, bufferHooks{})

	tests := []struct {
		name string
		cfg  DecoderConfig
	}{
		{"zero width", DecoderConfig{Codec: CodecVP8, Height: 24, Format: PixelFormatYUV420P}},
		{"zero height", DecoderConfig{Codec: CodecVP8, Width: 32, Format: PixelFormatYUV420P}},
		{"oversized", DecoderConfig{Codec: CodecVP8, Width: 16385, Height: 24, Format: PixelFormatYUV420P}},
		{"unknown format", DecoderConfig{Codec: CodecVP8, Width: 32, Height: 24}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := openWith(tt.cfg, ProviderAVCodec, rt.factory())
			var ierr *InitError
			if !errors.As(err, &ierr) {
				t.Errorf("got %v, want InitError", err)
			}
		})
	}
}

func TestDefaultDecoderConfig(t *testing.T) {
	cfg := DefaultDecoderConfig(CodecH264, 1920, 1080)
	if cfg.Codec != CodecH264 || cfg.Width != 1920 || cfg.Height != 1080 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Format != PixelFormatYUV420P {
		t.Errorf("format = %v, want YUV420P", cfg.Format)
	}
	if cfg.Provider != ProviderAuto || cfg.Threads != 0 {
		t.Errorf("provider/threads = %v/%d, want auto/0", cfg.Provider, cfg.Threads)
	}
}

func TestInfoSnapshot(t *testing.T) {
	ctx, _ := openFakeDecoder(t, testDecoderConfig())

	img, err := ctx.Decode(testUnit(1))
	if err != nil {
		t.Fatal(err)
	}

	info := ctx.Info()
	if info["codec"] != "VP8" {
		t.Errorf("codec = %v, want VP8", info["codec"])
	}
	if info["width"] != 32 || info["height"] != 24 {
		t.Errorf("dimensions = %vx%v, want 32x24", info["width"], info["height"])
	}
	if info["outstanding"] != 1 {
		t.Errorf("outstanding = %v, want 1", info["outstanding"])
	}
	if info["state"] != "open" {
		t.Errorf("state = %v, want open", info["state"])
	}

	img.Free()
	ctx.Close()
	if got := ctx.Info()["state"]; got != "closed" {
		t.Errorf("state after close = %v, want closed", got)
	}
}
