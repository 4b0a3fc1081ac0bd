// Package scanner is the Frame Scanner Scheduler (C2) and Decoder Worker
// (C3): per-scanner single-slot drop-oldest queues feeding a pool of
// workers that decode, resize, and run a detector plugin against each
// Frame.
package scanner

import (
	"image"
	"strconv"
	"sync"
)

// Frame is a decoded picture in planar NV12 at the source resolution
// (spec.md GLOSSARY "Frame"). It is reference-counted rather than
// GC-cycled so large 4K buffers are released promptly, and it caches a
// resized RGBA view per target size so two scanners with identical input
// size share one resize (spec.md §4.3, §9 "Shared frames with lazy
// cached views").
type Frame struct {
	Raw       []byte
	Width     int
	Height    int
	CaptureAt int64 // unix nanos, avoids importing time into the hot path

	mu       sync.Mutex
	refCount int32
	decoded  *image.RGBA // lazily populated by decodeOnce
	views    map[string]*image.RGBA
	release  func(*Frame)
}

// NewFrame wraps raw NV12 bytes into a Frame with an initial reference
// count of 1. release is called once the last reference is dropped.
func NewFrame(raw []byte, width, height int, captureAtUnixNano int64, release func(*Frame)) *Frame {
	return &Frame{
		Raw:       raw,
		Width:     width,
		Height:    height,
		CaptureAt: captureAtUnixNano,
		refCount:  1,
		views:     make(map[string]*image.RGBA),
		release:   release,
	}
}

// Retain increments the reference count; call once per scanner that will
// hold onto this Frame past the current tick.
func (f *Frame) Retain() {
	f.mu.Lock()
	f.refCount++
	f.mu.Unlock()
}

// Release decrements the reference count, invoking the release callback
// exactly once when it reaches zero.
func (f *Frame) Release() {
	f.mu.Lock()
	f.refCount--
	done := f.refCount <= 0
	f.mu.Unlock()
	if done && f.release != nil {
		f.release(f)
	}
}

// viewKey is the cache key for a resized view at width x height.
func viewKey(width, height int) string {
	return strconv.Itoa(width) + "x" + strconv.Itoa(height)
}

// cachedView returns the previously resized image at width x height, if
// any scanner already produced one this tick.
func (f *Frame) cachedView(width, height int) (*image.RGBA, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[viewKey(width, height)]
	return v, ok
}

// storeView caches a resized image for reuse by other scanners declaring
// the same input size.
func (f *Frame) storeView(width, height int, img *image.RGBA) {
	f.mu.Lock()
	f.views[viewKey(width, height)] = img
	f.mu.Unlock()
}

// decodedRGBA returns the full-resolution NV12->RGBA decode, computing it
// once per Frame regardless of how many scanners request a resize
// (spec.md §4.3: "calls Frame.decode_once()").
func (f *Frame) decodedRGBA() *image.RGBA {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decoded == nil {
		f.decoded = decodeNV12(f.Raw, f.Width, f.Height)
	}
	return f.decoded
}

// DecodedRGBA exposes the full-resolution decode to callers outside the
// package, such as the thumbnail snapshot the NVR state machine takes
// when a recording starts (spec.md §4.6 step 3).
func (f *Frame) DecodedRGBA() *image.RGBA {
	return f.decodedRGBA()
}
