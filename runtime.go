package pixbuf

import (
	"fmt"
	"sync"
)

// bufferHooks is the capability object a decoder context hands to its runtime
// at open time. The runtime calls back through it from inside Decode; there is
// no global state keyed by raw pointers, so independent contexts never share a
// dispatch table. Implementations must not panic across the native boundary.
type bufferHooks struct {
	// allocated announces that the runtime took the identified buffer from
	// its pool for the picture being decoded. Called zero or more times per
	// Decode call (buffers are reused across frames).
	allocated func(buf uintptr, size int)

	// recycled is the runtime-side release vote: the runtime no longer needs
	// the buffer for reference frames and wants it back in the pool.
	recycled func(buf uintptr)
}

// nativeFrame describes one decoded picture as reported by the runtime.
type nativeFrame struct {
	// buffer is the pool buffer identity, matching an allocated() call. The
	// plane pointers may differ from it; lookups always go through buffer.
	buffer uintptr

	format        PixelFormat // actual output format chosen by the runtime
	width, height int
	planes        []uintptr
	strides       []int
}

// decoderRuntime is the narrow surface of a native codec runtime. One runtime
// instance backs one DecoderContext; calls are serialized by the context.
type decoderRuntime interface {
	// Decode submits one compressed unit. ok is false when the unit produced
	// no picture yet (delayed/B-frame pipelines). The runtime may invoke the
	// allocation hooks any number of times during the call.
	Decode(data []byte) (frame nativeFrame, ok bool, err error)

	// Release hands one pool buffer back to the runtime. This is the single
	// native free per buffer; it is only ever called once, from the frame
	// handle whose votes converged.
	Release(buf uintptr)

	// Close destroys the runtime instance. Every pool buffer becomes invalid;
	// the context guarantees all handles have converged before calling it.
	Close()
}

// runtimeFactory creates a decoder runtime wired to the given hooks.
type runtimeFactory func(cfg DecoderConfig, hooks bufferHooks) (decoderRuntime, error)

// runtimeRegistry maps codec -> provider -> factory, with a default provider
// per codec.
type runtimeRegistry struct {
	mu        sync.RWMutex
	factories map[Codec]map[Provider]runtimeFactory
	defaults  map[Codec]Provider
}

var globalRuntimeRegistry = &runtimeRegistry{
	factories: make(map[Codec]map[Provider]runtimeFactory),
	defaults:  make(map[Codec]Provider),
}

// registerDecoderRuntime registers a runtime factory for a codec+provider.
func registerDecoderRuntime(codec Codec, provider Provider, factory runtimeFactory) {
	globalRuntimeRegistry.mu.Lock()
	defer globalRuntimeRegistry.mu.Unlock()

	if globalRuntimeRegistry.factories[codec] == nil {
		globalRuntimeRegistry.factories[codec] = make(map[Provider]runtimeFactory)
	}
	globalRuntimeRegistry.factories[codec][provider] = factory

	if _, exists := globalRuntimeRegistry.defaults[codec]; !exists {
		globalRuntimeRegistry.defaults[codec] = provider
	}
}

// resolveRuntime picks the factory for a config, honoring an explicit provider
// request and falling back to the codec default for ProviderAuto.
func resolveRuntime(cfg DecoderConfig) (runtimeFactory, Provider, error) {
	globalRuntimeRegistry.mu.RLock()
	defer globalRuntimeRegistry.mu.RUnlock()

	providers := globalRuntimeRegistry.factories[cfg.Codec]
	if providers == nil {
		return nil, ProviderAuto, fmt.Errorf("%w: no providers for %s", ErrCodecNotSupported, cfg.Codec)
	}

	p := cfg.Provider
	if p == ProviderAuto {
		p = globalRuntimeRegistry.defaults[cfg.Codec]
	}

	factory, ok := providers[p]
	if !ok || !p.Available() {
		return nil, p, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, p, cfg.Codec)
	}
	return factory, p, nil
}

// DecoderProviders returns the available providers for a codec.
func DecoderProviders(codec Codec) []Provider {
	globalRuntimeRegistry.mu.RLock()
	defer globalRuntimeRegistry.mu.RUnlock()

	providers := globalRuntimeRegistry.factories[codec]
	result := make([]Provider, 0, len(providers))
	for p := range providers {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}
