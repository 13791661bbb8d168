// Package pixbuf bridges native video decoder runtimes to a screen-forwarding
// pipeline without copying pixel data more often than necessary.
//
// The native runtimes (libpixbuf_avcodec for H.264/VP8/VP9/MPEG-4, libpixbuf_jpeg
// for JPEG) manage their own pools of decode buffers and can reclaim a buffer at
// any time after the decode call that produced it. The consumer of a decoded
// picture may hold the same memory across an arbitrary delay (re-encode,
// compression, network send). pixbuf reconciles the two owners:
//
//   - FrameHandle wraps one native buffer and performs the single native release
//     only after both the runtime and the consumer have voted it free.
//   - PixelImage is the consumer-facing view of one decoded or captured picture.
//     It can hand out zero-copy plane views, deep-copy itself into Go-owned
//     memory (detaching from the decoder), or release its vote outright.
//   - DecoderContext owns one runtime instance, the registry of live buffers,
//     and the set of images it has issued; Close drains that set by forcing
//     clones so no consumer is left pointing at reclaimed native memory.
//   - CaptureBuffer applies the same discipline to a shared-memory capture
//     segment, with a plain reference count instead of the dual vote.
//
// # Architecture
//
//	Decode:  compressed unit -> DecoderContext.Decode -> PixelImage (+FrameHandle)
//	Capture: SysV shm segment -> CaptureBuffer.View -> PixelImage
//	RTP:     rtp.Packet -> Depacketizer -> Unit -> DecoderContext.Decode
//
// # Native Libraries
//
// Bindings load libpixbuf_* shared libraries via purego (CGO_ENABLED=0).
// Set PIXBUF_SDK_LIB_PATH to the directory containing these libraries, or the
// per-library PIXBUF_AVCODEC_LIB_PATH / PIXBUF_JPEG_LIB_PATH overrides.
// Availability depends on which native libraries are present at runtime.
//
// # Build Tags
//
// Optional tags disable bindings:
//   - noavcodec: disable the avcodec wrapper (H.264/VP8/VP9/MPEG-4)
//   - nojpeg: disable the turbojpeg wrapper
package pixbuf
