package pixbuf

import "sync/atomic"

// Provider identifies a native decoder implementation.
type Provider uint8

const (
	ProviderAuto      Provider = iota // Let the library choose
	ProviderAVCodec                   // libavcodec wrapper (H.264/VP8/VP9/MPEG-4)
	ProviderTurboJPEG                 // libturbojpeg wrapper (JPEG)
	providerCount
)

// License represents the software license of a provider.
type License uint8

const (
	LicenseGPL  License = iota // Copyleft - requires source disclosure
	LicenseLGPL                // Weak copyleft - dynamic linking allowed
	LicenseBSD                 // Permissive - no copyleft obligations
)

func (l License) String() string {
	switch l {
	case LicenseGPL:
		return "GPL"
	case LicenseLGPL:
		return "LGPL"
	case LicenseBSD:
		return "BSD"
	default:
		return "unknown"
	}
}

// Features is a bitmask of provider capabilities.
type Features uint32

const (
	FeatureDelayedOutput Features = 1 << iota // May buffer frames (B-frame reordering)
	FeatureAlpha                              // Separate alpha plane decode
	FeatureFormatChoice                       // May substitute an equivalent output format
)

// Has returns true if all specified features are supported.
func (f Features) Has(feature Features) bool { return f&feature == feature }

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name     string
	License  License
	Codecs   []Codec
	Features Features
}

// Static metadata table - indexed by Provider.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:      {"auto", LicenseBSD, nil, 0},
	ProviderAVCodec:   {"avcodec", LicenseLGPL, []Codec{CodecH264, CodecVP8, CodecVP9, CodecMPEG4}, FeatureDelayedOutput | FeatureFormatChoice},
	ProviderTurboJPEG: {"turbojpeg", LicenseBSD, []Codec{CodecJPEG}, FeatureAlpha},
}

// Runtime availability - set by init() in binding implementations.
var providerAvailable [providerCount]atomic.Bool

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// License returns the provider's license type.
func (p Provider) License() License {
	if p >= providerCount {
		return LicenseGPL
	}
	return providerInfo[p].License
}

// Features returns the provider's feature bitmask.
func (p Provider) Features() Features {
	if p >= providerCount {
		return 0
	}
	return providerInfo[p].Features
}

// Codecs returns the codecs the provider can decode.
func (p Provider) Codecs() []Codec {
	if p >= providerCount {
		return nil
	}
	return providerInfo[p].Codecs
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

// setProviderAvailable marks a provider as available (called by bindings).
func setProviderAvailable(p Provider) {
	if p < providerCount {
		providerAvailable[p].Store(true)
	}
}
