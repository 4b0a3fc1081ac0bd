// Package fragmenter is the Fragmenter (spec C4): it turns closed MP4
// segments written by the Stream Reader's segment muxer into HLS-ready
// fragments and registers them in the Segment Index with an accurate
// duration.
package fragmenter

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"nvr-core/bus"
	"nvr-core/database"
)

const sweepInterval = 5 * time.Second

// maxConsecutiveFailures is spec.md §7's "fails three times in a row"
// threshold before a source file is quarantined.
const maxConsecutiveFailures = 3

// Camera is everything the Fragmenter needs to know about one camera to
// fragment its temp segments.
type Camera struct {
	ID          string
	TempDir     string // where the Stream Reader's segment muxer writes *.mp4
	SegmentsDir string // destination tier's segments directory
	TierID      int
	TierPath    string
}

// Fragmenter runs the 5s sweep (spec.md §4.4) across a set of cameras.
type Fragmenter struct {
	db  database.Database
	bus *bus.Bus

	mu       sync.Mutex
	cameras  map[string]Camera
	failures map[string]int // srcPath -> consecutive fragmentOne failures
}

func New(db database.Database, b *bus.Bus) *Fragmenter {
	return &Fragmenter{db: db, bus: b, cameras: make(map[string]Camera), failures: make(map[string]int)}
}

func (fr *Fragmenter) AddCamera(c Camera) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.cameras[c.ID] = c
}

func (fr *Fragmenter) RemoveCamera(id string) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	delete(fr.cameras, id)
}

func (fr *Fragmenter) snapshot() []Camera {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	out := make([]Camera, 0, len(fr.cameras))
	for _, c := range fr.cameras {
		out = append(out, c)
	}
	return out
}

// Run drives the sweep loop until stop is closed, running one final sweep
// afterward per spec.md §4.4's shutdown contract ("wait for the Stream
// Reader to have stopped, then run the loop one final time").
func (fr *Fragmenter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			fr.sweepAll()
			return
		case <-ticker.C:
			fr.sweepAll()
		}
	}
}

func (fr *Fragmenter) sweepAll() {
	for _, c := range fr.snapshot() {
		if err := fr.sweepCamera(c); err != nil {
			log.Printf("[fragmenter:%s] sweep error: %v", c.ID, err)
		}
	}
}

// sweepCamera implements spec.md §4.4's per-camera algorithm steps 1-6.
func (fr *Fragmenter) sweepCamera(c Camera) error {
	entries, err := os.ReadDir(c.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read temp dir: %w", err)
	}

	openPaths, err := openFilePaths()
	if err != nil {
		log.Printf("[fragmenter:%s] could not enumerate open files, proceeding without the check: %v", c.ID, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".mp4" {
			continue
		}
		srcPath := filepath.Join(c.TempDir, entry.Name())
		if openPaths[srcPath] {
			continue // step 2: still held open by the decoder, skip this pass
		}
		if err := fr.fragmentOne(c, srcPath, entry.Name()); err != nil {
			log.Printf("[fragmenter:%s] failed to fragment %s: %v", c.ID, srcPath, err)
			fr.recordFailure(c, srcPath, entry.Name())
			continue
		}
		fr.clearFailure(srcPath)
	}
	return nil
}

// recordFailure implements spec.md §7's escape hatch: a source file that
// fails fragmentation three times in a row is moved to a quarantine
// subdirectory and a warning is logged, instead of retrying it forever.
func (fr *Fragmenter) recordFailure(c Camera, srcPath, filename string) {
	fr.mu.Lock()
	fr.failures[srcPath]++
	count := fr.failures[srcPath]
	fr.mu.Unlock()

	if count < maxConsecutiveFailures {
		return
	}

	fr.mu.Lock()
	delete(fr.failures, srcPath)
	fr.mu.Unlock()

	quarantineDir := filepath.Join(c.TempDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		log.Printf("[fragmenter:%s] failed to create quarantine dir for %s: %v", c.ID, srcPath, err)
		return
	}
	dest := filepath.Join(quarantineDir, filename)
	if err := os.Rename(srcPath, dest); err != nil {
		log.Printf("[fragmenter:%s] failed to quarantine %s: %v", c.ID, srcPath, err)
		return
	}
	log.Printf("[fragmenter:%s] warning: %s failed to fragment %d times in a row, quarantined to %s", c.ID, srcPath, maxConsecutiveFailures, dest)
}

// clearFailure resets a source file's consecutive-failure count after a
// successful fragmentation.
func (fr *Fragmenter) clearFailure(srcPath string) {
	fr.mu.Lock()
	delete(fr.failures, srcPath)
	fr.mu.Unlock()
}

// fragmentOne runs steps 3-6 on a single eligible source mp4.
func (fr *Fragmenter) fragmentOne(c Camera, srcPath, filename string) error {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	workDir, err := os.MkdirTemp(c.TempDir, "frag-"+stem+"-")
	if err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := runMP4Box(srcPath, workDir); err != nil {
		return fmt.Errorf("mp4box: %w", err)
	}

	playlistPath := filepath.Join(workDir, "master_1.m3u8")
	duration, err := parseFirstEXTINF(playlistPath)
	if err != nil {
		return fmt.Errorf("parse EXTINF: %w", err)
	}

	destFragment := filepath.Join(c.SegmentsDir, stem+".m4s")
	destInit := filepath.Join(c.SegmentsDir, "init.mp4")

	if err := os.MkdirAll(c.SegmentsDir, 0o755); err != nil {
		return fmt.Errorf("create segments dir: %w", err)
	}

	info, err := os.Stat(filepath.Join(workDir, "clip_1.m4s"))
	var size int64
	if err == nil {
		size = info.Size()
	}

	// The segment muxer names each source file after its local start time.
	origCTime := time.Now()
	if t, err := time.ParseInLocation("20060102_150405", stem, time.Local); err == nil {
		origCTime = t
	}

	f := database.File{
		ID:          uuid.NewString(),
		TierID:      c.TierID,
		TierPath:    c.TierPath,
		CameraID:    c.ID,
		Category:    database.CategoryRecorder,
		Subcategory: database.SubcategorySegments,
		Path:        destFragment,
		Directory:   c.SegmentsDir,
		Filename:    filepath.Base(destFragment),
		Size:        size,
		OrigCTime:   origCTime,
		Duration:    &duration,
	}
	if err := fr.db.CreateFile(f); err != nil {
		return fmt.Errorf("insert file row: %w", err)
	}
	if err := atomicRename(filepath.Join(workDir, "clip_1.m4s"), destFragment); err != nil {
		return fmt.Errorf("move fragment: %w", err)
	}
	if err := atomicRename(filepath.Join(workDir, "clip_init.mp4"), destInit); err != nil {
		return fmt.Errorf("move init segment: %w", err)
	}
	if fr.bus != nil {
		_ = fr.bus.Publish(bus.FileCreatedSubject, bus.FileEvent{
			CameraID:    c.ID,
			Category:    string(database.CategoryRecorder),
			Subcategory: string(database.SubcategorySegments),
			FileName:    f.Filename,
			Path:        f.Path,
		})
	}

	return os.Remove(srcPath)
}

// runMP4Box shells out to MP4Box to produce clip_init.mp4, clip_1.m4s and
// master_1.m3u8 in workDir. The invocation is spec.md §6's literal
// external CLI contract verbatim, matching the original fragmenter's
// _mp4box_command; exec.Command + CombinedOutput error-reporting is the
// teacher's idiom (recording/recording.go, chunks/manager.go).
func runMP4Box(srcPath, workDir string) error {
	cmd := exec.Command("MP4Box",
		"-dash", "10000", "-rap", "-frag-rap",
		"-segment-name", "clip_",
		"-out", filepath.Join(workDir, "master.m3u8"),
		srcPath,
	)
	cmd.Dir = workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(out))
	}
	return nil
}

// parseFirstEXTINF returns the duration of the first #EXTINF line, the
// playlist's authoritative duration per spec.md §4.4 step 3-4.
func parseFirstEXTINF(playlistPath string) (float64, error) {
	f, err := os.Open(playlistPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "#EXTINF:") {
			continue
		}
		rest := strings.TrimPrefix(line, "#EXTINF:")
		rest = strings.TrimSuffix(rest, ",")
		if comma := strings.IndexByte(rest, ','); comma >= 0 {
			rest = rest[:comma]
		}
		return strconv.ParseFloat(strings.TrimSpace(rest), 64)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no #EXTINF line found in %s", playlistPath)
}

// atomicRename renames src to dst with os.Rename, which is atomic within
// one filesystem. There is no copy fallback: when dst lies on a different
// filesystem than the camera's temp directory (where workDir is created),
// the rename fails and the error is returned.
func atomicRename(src, dst string) error {
	return os.Rename(src, dst)
}

// openFilePaths scans every running process's open-file table, grounded
// on the teacher's monitoring/monitor.go use of shirou/gopsutil/v3 for
// process introspection (it reads proc.MemoryInfo(); this reads
// proc.OpenFiles() instead).
func openFilePaths() (map[string]bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	open := make(map[string]bool)
	for _, p := range procs {
		files, err := p.OpenFiles()
		if err != nil {
			continue // process exited mid-scan or we lack permission; best-effort
		}
		for _, of := range files {
			open[of.Path] = true
		}
	}
	return open, nil
}
