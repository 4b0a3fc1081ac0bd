package scanner

import (
	"fmt"
	"image"
	"sync"
)

// DetectedObject is one object-detector hit, in relative [0,1] coordinates
// so the NVR state machine's width/height filters (spec.md §4.6) don't
// need to know the scanner's input resolution.
type DetectedObject struct {
	Label      string
	Confidence float64
	X, Y       float64 // top-left, relative to frame
	Width      float64
	Height     float64
}

// Result is what a Detector's Infer returns: either a set of objects (an
// object detector) or a boolean motion flag (a motion detector). A
// passthrough detector returns both zero.
type Result struct {
	Objects []DetectedObject
	Motion  bool
}

// Detector is the plugin interface spec.md §9 calls for in place of the
// source's dynamic import: "plugin registers a (name, infer_fn,
// input_size) triple at startup; the Decoder Worker is generic over the
// interface. No runtime import."
type Detector interface {
	Name() string
	InputSize() (width, height int)
	Infer(img *image.RGBA) (Result, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Detector{}
)

// Register adds a Detector to the process-wide registry. Call from an
// init() in the detector's own package, mirroring how the source's
// plugins self-register at import time but without any dynamic loading.
func Register(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name()] = d
}

// Lookup returns the registered Detector for name.
func Lookup(name string) (Detector, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no detector registered with name %q", name)
	}
	return d, nil
}

// passthroughDetector is the no-detector scanner spec.md §4.2 describes:
// "exists when neither detector is configured; it is always off unless an
// external consumer subscribes."
type passthroughDetector struct{}

func (passthroughDetector) Name() string                            { return "passthrough" }
func (passthroughDetector) InputSize() (int, int)                   { return 0, 0 }
func (passthroughDetector) Infer(*image.RGBA) (Result, error)        { return Result{}, nil }

func init() {
	Register(passthroughDetector{})
}
