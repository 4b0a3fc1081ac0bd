// Package camera is the composition root spec.md §9 calls for: "collapse
// to a single concrete Camera with composition" rather than a virtual
// dispatch hierarchy. One Camera owns exactly the concrete pieces spec.md
// §2's module list describes for a single stream: a Stream Reader, a
// Frame Scanner Scheduler, the Decoder Workers it starts, an NVR state
// machine, and the Fragmenter's registration for that camera's tier path.
// Grounded on the teacher's recording/manager.go RecordingManager/
// CameraRecording — same map-of-cancel-contexts shape, generalized to
// start a full per-camera pipeline instead of one ffmpeg subprocess.
package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"nvr-core/bus"
	"nvr-core/config"
	"nvr-core/database"
	"nvr-core/fragmenter"
	"nvr-core/ingest"
	"nvr-core/nvr"
	"nvr-core/scanner"
)

// tickInterval is how often the NVR state machine re-evaluates, driven
// independently of frame arrival so idle-timeout/keepalive deadlines are
// enforced even while no scanner result is pending (spec.md §4.6).
const tickInterval = 500 * time.Millisecond

// Camera is one configured camera's complete running pipeline.
type Camera struct {
	ID string

	cfg     config.CameraConfig
	hotTier config.TierConfig
	db      database.Database
	bus     *bus.Bus
	reader  *ingest.Reader
	disp    *scanner.Dispatcher
	scnrs   []*scanner.Scanner
	rec     *nvr.Recorder

	frameMu     sync.Mutex
	latestFrame *scanner.Frame

	stopWorkers func()
	cancel      context.CancelFunc
}

// New builds a Camera's pipeline but does not start any goroutines.
// tempDir is where the Stream Reader's segment muxer writes closed .mp4
// segments before the Fragmenter picks them up; hotTier is the tier the
// Fragmenter registers newly-fragmented segments into (spec.md §4.4).
func New(cfg config.CameraConfig, tempDir string, hotTier config.TierConfig, db database.Database, b *bus.Bus) (*Camera, error) {
	var scnrs []*scanner.Scanner
	var objectScanner, motionScanner *scanner.Scanner
	var objectCfg, motionCfg *config.ScannerConfig

	for i := range cfg.Scanners {
		sc := cfg.Scanners[i]
		scanInterval := cfg.ScanInterval(sc)
		s, err := scanner.NewScanner(sc, scanInterval)
		if err != nil {
			return nil, fmt.Errorf("camera %s: %v", cfg.ID, err)
		}
		scnrs = append(scnrs, s)
		switch sc.Type {
		case "object":
			objectScanner, objectCfg = s, &cfg.Scanners[i]
		case "motion":
			motionScanner, motionCfg = s, &cfg.Scanners[i]
		}
	}

	disp := scanner.NewDispatcher(scnrs)
	rec := nvr.New(db, b, cfg.ID, time.Duration(cfg.SegmentDuration)*time.Second, cfg.Recorder, objectScanner, objectCfg, motionScanner, motionCfg)

	c := &Camera{
		ID:      cfg.ID,
		cfg:     cfg,
		hotTier: hotTier,
		db:      db,
		bus:     b,
		disp:    disp,
		scnrs:   scnrs,
		rec:     rec,
	}

	// The reader's onFrame callback both keeps the latest frame around for
	// thumbnail snapshots and fans out to the scanner dispatcher, so the
	// two never race over which frame a recording's thumbnail sees.
	c.reader = ingest.NewReader(cfg, tempDir, b, func(f *scanner.Frame) {
		c.storeLatestFrame(f)
		disp.Offer(f)
	})

	rec.ThumbnailFunc = c.snapshotThumbnail
	if cfg.Recorder.CreateEventClip {
		rec.EventClipFunc = c.materializeEventClip
	}

	return c, nil
}

// storeLatestFrame retains f as the camera's latest frame for thumbnail
// snapshots, releasing whatever frame it replaces.
func (c *Camera) storeLatestFrame(f *scanner.Frame) {
	f.Retain()
	c.frameMu.Lock()
	prev := c.latestFrame
	c.latestFrame = f
	c.frameMu.Unlock()
	if prev != nil {
		prev.Release()
	}
}

// snapshotThumbnail encodes the camera's latest frame, annotated with any
// objects in view, to a JPEG thumbnail for the given recording. Grounded
// on the original recorder's create_thumbnail, which draws detected
// objects onto the frame via draw_objects before cv2.imwrite (spec.md
// §4.6 step 3, §3 Recording data model).
func (c *Camera) snapshotThumbnail(cameraID, recordingID string, objects []scanner.DetectedObject) (string, error) {
	c.frameMu.Lock()
	f := c.latestFrame
	if f != nil {
		f.Retain()
	}
	c.frameMu.Unlock()
	if f == nil {
		return "", fmt.Errorf("no frame available yet for camera %s", cameraID)
	}
	defer f.Release()

	img := f.DecodedRGBA()
	drawDetections(img, objects)

	dir := filepath.Join(c.hotTier.Root, string(database.CategoryRecorder), string(database.SubcategoryThumbnails), cameraID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}
	path := filepath.Join(dir, recordingID+".jpg")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create thumbnail file: %w", err)
	}
	defer out.Close()
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: 85}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return path, nil
}

// drawDetections outlines each object's bounding box on img, the same
// annotated-thumbnail behavior as the original recorder's draw_objects
// helper (dropped-feature supplement: spec.md only specifies a bare
// snapshot, the source also burns in detection boxes).
func drawDetections(img *image.RGBA, objects []scanner.DetectedObject) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	boxColor := color.RGBA{G: 255, A: 255}
	for _, o := range objects {
		x0 := bounds.Min.X + int(o.X*float64(w))
		y0 := bounds.Min.Y + int(o.Y*float64(h))
		x1 := x0 + int(o.Width*float64(w))
		y1 := y0 + int(o.Height*float64(h))
		drawRectOutline(img, x0, y0, x1, y1, boxColor)
	}
}

func drawRectOutline(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	b := img.Bounds()
	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	x0, x1 = clamp(x0, b.Min.X, b.Max.X-1), clamp(x1, b.Min.X, b.Max.X-1)
	y0, y1 = clamp(y0, b.Min.Y, b.Max.Y-1), clamp(y1, b.Min.Y, b.Max.Y-1)
	for x := x0; x <= x1; x++ {
		img.Set(x, y0, c)
		img.Set(x, y1, c)
	}
	for y := y0; y <= y1; y++ {
		img.Set(x0, y, c)
		img.Set(x1, y, c)
	}
}

// materializeEventClip concatenates every fragment indexed under rec into
// a single MP4 (spec.md §4.4 Concatenation, §4.6), gated by the manifest's
// create_event_clip flag in New.
func (c *Camera) materializeEventClip(rec database.Recording) (string, error) {
	files, err := c.db.ListFilesByRecording(rec.ID)
	if err != nil {
		return "", fmt.Errorf("list files for recording %s: %w", rec.ID, err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no fragments indexed for recording %s", rec.ID)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].OrigCTime.Before(files[j].OrigCTime) })

	fragments := make([]string, len(files))
	durations := make([]float64, len(files))
	for i, f := range files {
		fragments[i] = f.Path
		if f.Duration != nil {
			durations[i] = *f.Duration
		}
	}

	initPath := filepath.Join(filepath.Dir(files[0].Path), "init.mp4")
	outDir := filepath.Join(c.hotTier.Root, string(database.CategoryRecorder), string(database.SubcategoryEventClips), c.cfg.ID)
	outPath := filepath.Join(outDir, rec.ID+".mp4")
	workDir := filepath.Join(c.reader.TempDir, "concat")

	if err := fragmenter.ConcatFragments(initPath, fragments, durations, workDir, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

// Start launches the Stream Reader's run loop, the Decoder Workers, and
// the NVR tick loop, and registers this camera with fr so its closed
// segments get fragmented. Returns once every goroutine has been
// scheduled; Stop reverses all of it.
func (c *Camera) Start(ctx context.Context, fr *fragmenter.Fragmenter) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopWorkers = scanner.StartWorkers(c.scnrs)

	fr.AddCamera(fragmenter.Camera{
		ID:          c.cfg.ID,
		TempDir:     c.reader.TempDir,
		SegmentsDir: filepath.Join(c.hotTier.Root, string(database.CategoryRecorder), string(database.SubcategorySegments), c.cfg.ID),
		TierID:      c.hotTier.ID,
		TierPath:    c.hotTier.Root,
	})

	go func() {
		if err := c.reader.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[camera:%s] stream reader exited: %v", c.cfg.ID, err)
		}
	}()

	go c.tickLoop(ctx)

	if c.bus != nil {
		subject := bus.RecorderManualSubject(c.cfg.ID)
		if _, err := bus.SubscribeJSON(c.bus, subject, c.handleManualCommand); err != nil {
			log.Printf("[camera:%s] failed to subscribe to %s: %v", c.cfg.ID, subject, err)
		}
		if err := c.bus.PublishEmpty(bus.CameraStartedSubject(c.cfg.ID)); err != nil {
			log.Printf("[camera:%s] failed to publish started event: %v", c.cfg.ID, err)
		}
	}
}

// handleManualCommand drives the manual override path (spec.md §4.6) from
// an out-of-process control client such as nvrctl.
func (c *Camera) handleManualCommand(cmd bus.RecorderManualCommand) {
	if !cmd.Start {
		c.CancelManual()
		return
	}
	if cmd.DurationSeconds <= 0 {
		c.RequestManual(nil)
		return
	}
	d := time.Duration(cmd.DurationSeconds) * time.Second
	c.RequestManual(&d)
}

func (c *Camera) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.rec.Tick(now)
		}
	}
}

// RequestManual starts (or extends) a manual recording for this camera
// (spec.md §4.6's manual override path, e.g. driven by nvrctl).
func (c *Camera) RequestManual(duration *time.Duration) {
	c.rec.RequestManual(duration)
}

// CancelManual ends a manual recording request for this camera.
func (c *Camera) CancelManual() {
	c.rec.CancelManual()
}

// IsRecording reports whether this camera currently has an open Recording.
func (c *Camera) IsRecording() bool {
	return c.rec.IsRecording()
}

// Stop cancels the reader/tick goroutines and halts the Decoder Workers.
func (c *Camera) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.stopWorkers != nil {
		c.stopWorkers()
	}
	c.frameMu.Lock()
	if c.latestFrame != nil {
		c.latestFrame.Release()
		c.latestFrame = nil
	}
	c.frameMu.Unlock()
	if c.bus != nil {
		c.bus.Unsubscribe(bus.RecorderManualSubject(c.cfg.ID))
		if err := c.bus.PublishEmpty(bus.CameraStoppedSubject(c.cfg.ID)); err != nil {
			log.Printf("[camera:%s] failed to publish stopped event: %v", c.cfg.ID, err)
		}
	}
}
