package pixbuf

import "sync"

// imageArena tracks the images a decoder context has issued but the consumer
// has not yet released. Images detach themselves on Free or ClonePixelData, so
// membership lasts exactly as long as the consumer still owes a release — the
// set Close must drain. Slots are reused; a generation counter per slot makes
// a detach from an already-recycled slot a detectable no-op instead of a
// dangling reference.
type imageArena struct {
	mu    sync.Mutex
	slots []arenaSlot
	free  []int
	live  int
}

type arenaSlot struct {
	gen uint64
	img *PixelImage
}

// add registers an image and returns its slot index and generation.
func (a *imageArena) add(img *PixelImage) (slot int, gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{})
		slot = len(a.slots) - 1
	}
	a.slots[slot].img = img
	a.live++
	return slot, a.slots[slot].gen
}

// drop releases a slot. A generation mismatch means the slot was already
// dropped and recycled; the call is ignored.
func (a *imageArena) drop(slot int, gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if slot < 0 || slot >= len(a.slots) {
		return
	}
	s := &a.slots[slot]
	if s.gen != gen || s.img == nil {
		return // stale
	}
	s.img = nil
	s.gen++
	a.free = append(a.free, slot)
	a.live--
}

func (a *imageArena) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// snapshot returns the images currently tracked, in no particular order.
func (a *imageArena) snapshot() []*PixelImage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*PixelImage, 0, a.live)
	for _, s := range a.slots {
		if s.img != nil {
			out = append(out, s.img)
		}
	}
	return out
}
