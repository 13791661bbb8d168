package pixbuf

import (
	"sync"
	"unsafe"
)

// contextState tracks the decoder lifecycle:
// Open -> {Decoding <-> Open} -> Draining -> Closed.
type contextState int

const (
	stateOpen contextState = iota
	stateDecoding
	stateDraining
	stateClosed
)

func (s contextState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateDecoding:
		return "decoding"
	case stateDraining:
		return "draining"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Dimension limits accepted at open time. The native wrappers reject larger
// surfaces themselves; checking here keeps the failure an InitError.
const maxDimension = 16384

// DecoderConfig configures a decoder context.
type DecoderConfig struct {
	Codec    Codec
	Provider Provider // ProviderAuto = library chooses

	Width  int
	Height int
	// Format is the nominal output format requested from the runtime. The
	// runtime may substitute an equivalent representation; images report the
	// actual format, and Info exposes both.
	Format  PixelFormat
	Threads int // Decoder threads (0 = auto)
}

// DefaultDecoderConfig returns a decoder configuration for the given codec and
// dimensions with planar YUV output and automatic provider/thread selection.
func DefaultDecoderConfig(codec Codec, width, height int) DecoderConfig {
	return DecoderConfig{
		Codec:  codec,
		Width:  width,
		Height: height,
		Format: PixelFormatYUV420P,
	}
}

// DecodeOptions carries per-unit decode hints.
type DecodeOptions struct {
	// Alpha is a separately decoded alpha plane to composite into the output
	// (JPEG with transparency). Requires a 4-byte packed output format. When
	// the merge fails, the decoded image is still returned alongside a
	// DecodeError with code DecodeErrAlphaMerge, and the caller owns it.
	Alpha       []byte
	AlphaStride int
}

// DecoderStats provides decoding metrics.
type DecoderStats struct {
	FramesDecoded uint64 // Pictures delivered to the consumer
	BytesDecoded  uint64 // Total compressed bytes accepted
	DecodeErrors  uint64 // Recoverable decode failures
	ImagesCloned  uint64 // Images forced independent at drain time
}

// DecoderContext owns one native runtime instance and mediates its buffer
// lifecycle. A context accepts one Decode call at a time (the runtimes are not
// reentrant); separate contexts are fully independent. Images issued by a
// context may be released from any goroutine.
type DecoderContext struct {
	mu    sync.Mutex
	state contextState

	cfg      DecoderConfig
	provider Provider
	rt       decoderRuntime

	registry *handleRegistry
	images   *imageArena

	actualFormat PixelFormat // zero until the first picture

	// pending tracks buffers the runtime holds across Decode calls for
	// delayed pictures: announced, no image issued yet. They stay alive
	// until a later unit produces the picture or Close drains them.
	pending map[uintptr]bool

	// announced collects the buffers announced during the current Decode
	// call, so a failed unit releases exactly its own buffers and never a
	// cross-call held one.
	announced []uintptr

	stats   DecoderStats
	statsMu sync.Mutex
}

// OpenDecoder creates a decoder context with fixed dimensions and nominal
// output format. On error the caller may retry with another codec or provider.
func OpenDecoder(cfg DecoderConfig) (*DecoderContext, error) {
	factory, provider, err := resolveRuntime(cfg)
	if err != nil {
		return nil, initErr(cfg.Codec, "no usable provider", err)
	}
	return openWith(cfg, provider, factory)
}

func openWith(cfg DecoderConfig, provider Provider, factory runtimeFactory) (*DecoderContext, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxDimension || cfg.Height > maxDimension {
		return nil, initErr(cfg.Codec, "dimensions out of range", nil)
	}
	if cfg.Format.PlaneCount() == 0 {
		return nil, initErr(cfg.Codec, "unsupported pixel format", nil)
	}

	c := &DecoderContext{
		state:    stateOpen,
		cfg:      cfg,
		provider: provider,
		registry: newHandleRegistry(),
		images:   &imageArena{},
		pending:  make(map[uintptr]bool),
	}

	rt, err := factory(cfg, bufferHooks{
		allocated: c.bufferAllocated,
		recycled:  c.bufferRecycled,
	})
	if err != nil {
		return nil, initErr(cfg.Codec, "runtime allocation failed", err)
	}
	c.rt = rt
	return c, nil
}

// bufferAllocated is invoked by the runtime, from inside a decode call, each
// time it takes a pool buffer for the picture being produced.
func (c *DecoderContext) bufferAllocated(buf uintptr, size int) {
	h := newFrameHandle(buf, c.rt.Release, c.registry.drop)
	c.registry.add(buf, h)
	c.announced = append(c.announced, buf)
}

// bufferRecycled is the runtime-side release vote for one buffer.
func (c *DecoderContext) bufferRecycled(buf uintptr) {
	if h, ok := c.registry.lookup(buf); ok {
		h.releaseRuntime()
	}
}

// Decode submits one compressed unit. A nil image with a nil error means the
// runtime is buffering and no picture is ready yet. A *DecodeError leaves the
// context usable for the next unit; the failed unit's buffer, if any, has been
// routed back through the release protocol and nothing leaks.
func (c *DecoderContext) Decode(unit *Unit) (*PixelImage, error) {
	return c.DecodeWithOptions(unit, nil)
}

// DecodeWithOptions is Decode with per-unit hints (alpha compositing).
func (c *DecoderContext) DecodeWithOptions(unit *Unit, opts *DecodeOptions) (*PixelImage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateDraining, stateClosed:
		lifecycleFault("Decode on %s context", c.state)
	case stateDecoding:
		lifecycleFault("concurrent Decode on one context")
	}

	if unit == nil || len(unit.Data) == 0 {
		return nil, decodeErr(DecodeErrEmptyUnit, "", nil)
	}

	c.announced = c.announced[:0]
	c.state = stateDecoding
	frame, ok, err := c.rt.Decode(unit.Data)
	c.state = stateOpen

	if err != nil {
		c.releaseAnnounced()
		c.countError()
		return nil, decodeErr(DecodeErrNative, "", err)
	}
	if !ok {
		// Buffering: the announced buffers are held for pictures a later
		// unit will produce.
		c.holdAnnounced()
		return nil, nil
	}

	img, derr := c.wrapFrame(frame)
	if derr != nil {
		c.releaseAnnounced()
		c.countError()
		return nil, derr
	}
	// The produced buffer now belongs to the image. Anything else announced
	// this call is held for a later picture.
	for _, buf := range c.announced {
		if buf != frame.buffer {
			c.pending[buf] = true
		}
	}
	c.announced = c.announced[:0]
	delete(c.pending, frame.buffer)

	c.statsMu.Lock()
	c.stats.FramesDecoded++
	c.stats.BytesDecoded += uint64(len(unit.Data))
	c.statsMu.Unlock()

	if opts != nil && opts.Alpha != nil {
		if merr := img.MergeAlpha(opts.Alpha, opts.AlphaStride); merr != nil {
			return img, decodeErr(DecodeErrAlphaMerge, "", merr)
		}
	}
	return img, nil
}

// wrapFrame turns a runtime picture into a consumer image with the frame
// handle attached and weak tracking registered.
func (c *DecoderContext) wrapFrame(frame nativeFrame) (*PixelImage, *DecodeError) {
	if frame.width <= 0 || frame.height <= 0 {
		return nil, decodeErr(DecodeErrZeroOutput, "", nil)
	}
	n := frame.format.PlaneCount()
	if n == 0 || len(frame.planes) < n || len(frame.strides) < n {
		return nil, decodeErr(DecodeErrBadOutput,
			"format "+frame.format.String(), nil)
	}
	h, found := c.registry.lookup(frame.buffer)
	if !found {
		return nil, decodeErr(DecodeErrUnknownBuffer, "", nil)
	}

	planes := make([][]byte, n)
	strides := make([]int, n)
	for i := 0; i < n; i++ {
		size := frame.format.PlaneSize(frame.height, frame.strides[i], i)
		if frame.planes[i] == 0 || frame.strides[i] <= 0 || size <= 0 {
			return nil, decodeErr(DecodeErrBadOutput, "empty plane", nil)
		}
		planes[i] = unsafe.Slice((*byte)(unsafe.Pointer(frame.planes[i])), size)
		strides[i] = frame.strides[i]
	}

	img := &PixelImage{
		width:   frame.width,
		height:  frame.height,
		format:  frame.format,
		planes:  planes,
		strides: strides,
		handle:  h,
		release: h.releaseConsumer,
	}
	img.arena = c.images
	img.slot, img.gen = c.images.add(img)

	c.actualFormat = frame.format
	return img, nil
}

// releaseAnnounced casts the consumer vote for the buffers announced during a
// failed decode call: no image will ever reference them. Buffers held from
// earlier calls are untouched.
func (c *DecoderContext) releaseAnnounced() {
	for _, buf := range c.announced {
		if h, ok := c.registry.lookup(buf); ok {
			h.releaseConsumer()
		}
		delete(c.pending, buf)
	}
	c.announced = c.announced[:0]
}

// holdAnnounced moves this call's announced buffers into the cross-call held
// set.
func (c *DecoderContext) holdAnnounced() {
	for _, buf := range c.announced {
		c.pending[buf] = true
	}
	c.announced = c.announced[:0]
}

// releasePending casts the consumer vote for every held buffer whose picture
// never came out. Called at drain time; no image will ever reference them.
func (c *DecoderContext) releasePending() {
	for buf := range c.pending {
		if h, ok := c.registry.lookup(buf); ok {
			h.releaseConsumer()
		}
		delete(c.pending, buf)
	}
}

func (c *DecoderContext) countError() {
	c.statsMu.Lock()
	c.stats.DecodeErrors++
	c.statsMu.Unlock()
}

// Close tears the context down. Every image still outstanding is forced
// through ClonePixelData first, because the runtime's buffers become invalid
// the moment the native instance is destroyed regardless of consumer votes.
// Idempotent; any later Decode is a lifecycle fault.
func (c *DecoderContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil
	}
	if c.state == stateDecoding {
		lifecycleFault("Close during Decode")
	}
	c.state = stateDraining

	// Buffers still held for delayed pictures have no image to release
	// them; their consumer vote is cast here on their behalf.
	c.releasePending()

	// Drain: no outstanding consumer reference may depend on memory the
	// runtime is about to invalidate.
	var cloned uint64
	for _, img := range c.images.snapshot() {
		if img.drainClone() {
			cloned++
		}
	}
	if cloned > 0 {
		c.statsMu.Lock()
		c.stats.ImagesCloned += cloned
		c.statsMu.Unlock()
	}

	// The runtime relinquishes its pool on destroy: cast its vote for every
	// buffer it never recycled explicitly. Draining already cast all consumer
	// votes, so this converges every remaining handle.
	for _, h := range c.registry.outstanding() {
		h.releaseRuntime()
	}
	c.registry.assertDrained()

	c.rt.Close()
	c.state = stateClosed
	return nil
}

// Stats returns decoding statistics.
func (c *DecoderContext) Stats() DecoderStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Codec returns the codec this context decodes.
func (c *DecoderContext) Codec() Codec { return c.cfg.Codec }

// Provider returns the provider backing this context.
func (c *DecoderContext) Provider() Provider { return c.provider }

// Info returns a diagnostic snapshot of the context.
func (c *DecoderContext) Info() map[string]any {
	c.mu.Lock()
	state := c.state
	actual := c.actualFormat
	c.mu.Unlock()

	stats := c.Stats()
	info := map[string]any{
		"codec":       c.cfg.Codec.String(),
		"provider":    c.provider.String(),
		"width":       c.cfg.Width,
		"height":      c.cfg.Height,
		"format":      c.cfg.Format.String(),
		"frames":      stats.FramesDecoded,
		"errors":      stats.DecodeErrors,
		"outstanding": c.registry.count(),
		"state":       state.String(),
	}
	if actual != PixelFormatUnknown {
		info["actual_format"] = actual.String()
	} else {
		info["actual_format"] = c.cfg.Format.String()
	}
	return info
}
