//go:build darwin || linux

// Shared utilities for purego-based decoder runtimes.

package pixbuf

import (
	"os"
	"path/filepath"
	"runtime"
	"unsafe"
)

// goStringFromPtr converts a C string pointer to a Go string.
// Used by both the avcodec and jpeg purego implementations.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for {
		if *(*byte)(unsafe.Pointer(uintptr(p) + uintptr(length))) == 0 {
			break
		}
		length++
		if length > 1024 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// findModuleRoot walks up the directory tree from the current working directory
// to find the module root (directory containing go.mod).
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// Pixel format codes shared by the pixbuf wrapper headers. Both
// libpixbuf_avcodec and libpixbuf_jpeg use the same enumeration.
var nativeFormatCodes = map[PixelFormat]int32{
	PixelFormatYUV420P: 0,
	PixelFormatYUV422P: 1,
	PixelFormatYUV444P: 2,
	PixelFormatRGB:     3,
	PixelFormatBGR:     4,
	PixelFormatRGBX:    5,
	PixelFormatBGRX:    6,
	PixelFormatXRGB:    7,
	PixelFormatBGRA:    8,
	PixelFormatARGB:    9,
	PixelFormatGBRP:    10,
}

func nativeFormatFromCode(code int32) PixelFormat {
	for f, c := range nativeFormatCodes {
		if c == code {
			return f
		}
	}
	return PixelFormatUnknown
}

// pixbufLibPaths builds the candidate load paths for a native wrapper library.
// base is the library name without extension ("libpixbuf_avcodec"); envVar
// names the library-specific override variable checked before the shared
// PIXBUF_SDK_LIB_PATH.
func pixbufLibPaths(base, envVar string) []string {
	var paths []string

	libName := base + ".so"
	if runtime.GOOS == "darwin" {
		libName = base + ".dylib"
	}

	// Environment variable overrides
	if envPath := os.Getenv(envVar); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("PIXBUF_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	// Try to find based on executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
			filepath.Join(exeDir, "..", "..", "build", "ffi", libName),
		)
	}

	// Try to find based on working directory
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "build", libName),
			filepath.Join(wd, "build", "ffi", libName),
			filepath.Join(wd, "..", "build", libName),
			filepath.Join(wd, "..", "build", "ffi", libName),
			filepath.Join(wd, "..", "..", "build", libName),
			filepath.Join(wd, "..", "..", "build", "ffi", libName),
		)
	}

	// Module root (works from package tests)
	if root := findModuleRoot(); root != "" {
		paths = append(paths,
			filepath.Join(root, "build", libName),
			filepath.Join(root, "build", "ffi", libName),
		)
	}

	// System paths
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			filepath.Join("/usr/local/lib", libName),
			filepath.Join("/opt/homebrew/lib", libName),
		)
	case "linux":
		paths = append(paths,
			libName,
			filepath.Join("/usr/local/lib", libName),
			filepath.Join("/usr/lib", libName),
		)
	}

	return paths
}
