package scanner

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"nvr-core/config"
)

// Scanner is one configured detector attached to a camera: a scheduled
// slot between the Stream Reader and its Decoder Worker.
type Scanner struct {
	Name         string
	Detector     Detector
	ScanInterval int // frames between deposits, spec.md §4.2

	armed    atomic.Bool
	frameIn  *slot[*Frame]
	resultOut *slot[Result]
	frameSeq  int64
}

// NewScanner builds a Scanner for cfg, looking up its Detector from the
// process-wide registry by cfg.Name; cfg.Type "none" or empty selects the
// passthrough detector instead.
func NewScanner(cfg config.ScannerConfig, scanInterval int) (*Scanner, error) {
	detectorName := cfg.Name
	if cfg.Type == "none" || cfg.Type == "" {
		detectorName = "passthrough"
	}
	d, err := Lookup(detectorName)
	if err != nil {
		return nil, fmt.Errorf("scanner %s: %v", cfg.Name, err)
	}
	s := &Scanner{
		Name:         cfg.Name,
		Detector:     d,
		ScanInterval: scanInterval,
		frameIn:      newSlot[*Frame](),
		resultOut:    newSlot[Result](),
	}
	s.armed.Store(cfg.Enabled)
	return s, nil
}

// SetArmed toggles the scan flag (spec.md §4.6 step 4). Disarming drains
// the pending frame queue at most once.
func (s *Scanner) SetArmed(armed bool) {
	wasArmed := s.armed.Swap(armed)
	if wasArmed && !armed {
		s.frameIn.drain()
	}
}

func (s *Scanner) Armed() bool {
	return s.armed.Load()
}

// Offer is called once per raw output frame by the camera's dispatch loop;
// it deposits the frame only every ScanInterval frames while armed,
// dropping the oldest queued frame if the scanner's worker hasn't drained
// it yet.
func (s *Scanner) Offer(f *Frame) {
	seq := atomic.AddInt64(&s.frameSeq, 1)
	if !s.Armed() {
		return
	}
	interval := s.ScanInterval
	if interval < 1 {
		interval = 1
	}
	if seq%int64(interval) != 0 {
		return
	}
	f.Retain()
	s.frameIn.put(f, func(dropped *Frame) { dropped.Release() })
}

// TryResult drains one result token, non-blocking, per spec.md §4.6 step 1.
func (s *Scanner) TryResult() (Result, bool) {
	return s.resultOut.tryTake()
}

// PushResult deposits a result directly into the scanner's result queue,
// bypassing Decoder Worker inference. Used by detectors that produce
// results out of band (e.g. an external MJPEG motion detector feeding a
// passthrough scanner) and by tests driving the NVR state machine without
// a real decode pipeline.
func (s *Scanner) PushResult(r Result) {
	s.resultOut.put(r, nil)
}

// Dispatcher deposits raw frames into every registered scanner in a fixed
// order (spec.md §4.2 "Ordering").
type Dispatcher struct {
	mu       sync.Mutex
	scanners []*Scanner
}

func NewDispatcher(scanners []*Scanner) *Dispatcher {
	return &Dispatcher{scanners: scanners}
}

func (d *Dispatcher) Offer(f *Frame) {
	d.mu.Lock()
	scanners := d.scanners
	d.mu.Unlock()
	for _, s := range scanners {
		s.Offer(f)
	}
}

// StartWorkers launches one Decoder Worker goroutine per scanner,
// returning a stop function.
func StartWorkers(scanners []*Scanner) (stop func()) {
	stopCh := make(chan struct{})
	for _, s := range scanners {
		go runWorker(s, stopCh)
	}
	var once sync.Once
	return func() {
		once.Do(func() { close(stopCh) })
	}
}

func runWorker(s *Scanner, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		f, ok := s.frameIn.take()
		if !ok {
			return
		}
		result, err := decodeResizeInfer(f, s)
		f.Release()
		if err != nil {
			log.Printf("[scanner:%s] decode/infer failed: %v", s.Name, err)
			continue
		}
		s.resultOut.put(result, nil)
	}
}
