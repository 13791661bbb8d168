package pixbuf

import "sync"

// releasedPtr is the sentinel stored in a handle once the native buffer has
// been handed back. Any later access through the handle is a lifecycle fault.
const releasedPtr = ^uintptr(0)

// releaseFunc performs the actual native buffer release. It is invoked exactly
// once per handle, when the second of the two votes lands.
type releaseFunc func(buf uintptr)

// FrameHandle wraps one native decode buffer. The runtime's internal
// buffer-reuse notification and the consumer's "done with these pixels" event
// are causally unrelated and can arrive in either order, separated by an
// unbounded interval; each casts one vote, and the buffer is released to the
// runtime's pool only when both have voted.
type FrameHandle struct {
	mu sync.Mutex

	buf     uintptr
	release releaseFunc
	// detach removes the registry entry once the handle converges.
	detach func(buf uintptr)

	runtimeReleased  bool
	consumerReleased bool
}

func newFrameHandle(buf uintptr, release releaseFunc, detach func(uintptr)) *FrameHandle {
	return &FrameHandle{buf: buf, release: release, detach: detach}
}

// releaseRuntime casts the runtime-side vote. Idempotent.
func (h *FrameHandle) releaseRuntime() {
	h.vote(&h.runtimeReleased, &h.consumerReleased)
}

// releaseConsumer casts the consumer-side vote. Idempotent.
func (h *FrameHandle) releaseConsumer() {
	h.vote(&h.consumerReleased, &h.runtimeReleased)
}

func (h *FrameHandle) vote(mine, other *bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if *mine {
		return // second vote from the same side is a no-op
	}
	*mine = true
	if !*other {
		return
	}

	// Both votes cast: this is the single point where the buffer actually
	// goes back to the runtime.
	buf := h.buf
	h.buf = releasedPtr
	if h.detach != nil {
		h.detach(buf)
		h.detach = nil
	}
	if h.release != nil {
		h.release(buf)
		h.release = nil
	}
}

// released reports whether both votes have converged.
func (h *FrameHandle) released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runtimeReleased && h.consumerReleased
}

// buffer returns the native buffer identity, faulting after convergence.
func (h *FrameHandle) buffer() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.buf == releasedPtr {
		lifecycleFault("frame handle used after release")
	}
	return h.buf
}

// handleRegistry maps native buffer identity to its FrameHandle. The runtime
// may hand back a frame pointer that differs from the pointer it announced at
// allocation time, so lookups go through the identity announced via the
// allocation hook, not through plane pointers.
type handleRegistry struct {
	mu      sync.Mutex
	handles map[uintptr]*FrameHandle
}

func newHandleRegistry() *handleRegistry {
	return &handleRegistry{handles: make(map[uintptr]*FrameHandle)}
}

func (r *handleRegistry) add(buf uintptr, h *FrameHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[buf]; exists {
		lifecycleFault("buffer %#x registered twice", buf)
	}
	r.handles[buf] = h
}

func (r *handleRegistry) lookup(buf uintptr) (*FrameHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[buf]
	return h, ok
}

func (r *handleRegistry) drop(buf uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, buf)
}

func (r *handleRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// outstanding snapshots the handles still waiting for at least one vote.
func (r *handleRegistry) outstanding() []*FrameHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FrameHandle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// assertDrained traps if any handle survived teardown with unconverged votes.
// This is the development-time replacement for a destructor assertion: a
// non-empty registry here means somebody forgot to release.
func (r *handleRegistry) assertDrained() {
	r.mu.Lock()
	n := len(r.handles)
	r.mu.Unlock()
	if n != 0 {
		lifecycleFault("%d frame handle(s) leaked at teardown", n)
	}
}
