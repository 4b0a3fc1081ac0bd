// Package tier is the Tier Manager (spec.md C7): it keeps each configured
// storage tier within its retention policy by moving fragments to the next
// tier or deleting them outright, and keeps thumbnails/event_clips slaved to
// their parent Recording's fragments.
package tier

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"nvr-core/bus"
	"nvr-core/config"
	"nvr-core/database"
)

// throttleWindow is the minimum gap between two SweepCameraTier runs for
// the same (camera, tier) key. The category and subcategory of a
// check_tier subject take no part in the key.
const throttleWindow = 2 * time.Second

// maxConcurrentSweeps bounds how many per-camera sweeps run at once, so a
// manifest with many cameras doesn't hammer disk I/O all at once.
const maxConcurrentSweeps = 4

// Manager owns one cron job per (tier, camera) pair plus an ad-hoc,
// coalesced check_tier handler.
type Manager struct {
	db        database.Database
	bus       *bus.Bus
	cameraIDs []string
	tiers     []config.TierConfig
	cfgSvc    *config.TierConfigService

	cron *cron.Cron
	sf   singleflight.Group

	throttleMu sync.Mutex
	lastRun    map[string]time.Time

	s3Uploaders map[int]*S3TierUploader // by tier index, for tiers with S3 configured
}

// New builds a Manager for the given manifest's tiers and camera list.
func New(db database.Database, b *bus.Bus, manifest *config.Manifest) *Manager {
	cameraIDs := make([]string, 0, len(manifest.Cameras))
	for _, c := range manifest.Cameras {
		cameraIDs = append(cameraIDs, c.ID)
	}
	m := &Manager{
		db:          db,
		bus:         b,
		cameraIDs:   cameraIDs,
		tiers:       manifest.Tiers,
		cfgSvc:      config.NewTierConfigService(db),
		lastRun:     map[string]time.Time{},
		s3Uploaders: map[int]*S3TierUploader{},
	}
	for i, t := range manifest.Tiers {
		if t.S3 == nil {
			continue
		}
		u, err := NewS3TierUploader(*t.S3)
		if err != nil {
			log.Printf("[tier] failed to configure S3 tier %d, falling back to local copy: %v", t.ID, err)
			continue
		}
		m.s3Uploaders[i] = u
	}
	return m
}

// Start registers one cron job per (tier, camera) at the tier's configured
// sweep interval (default 60s, spec.md §4.7) and subscribes to ad-hoc
// tier.check.> events.
func (m *Manager) Start() error {
	m.cron = cron.New()

	for tierIdx, t := range m.tiers {
		tierIdx, t := tierIdx, t
		interval := t.SweepIntervalSeconds
		if interval <= 0 {
			interval = 60
		}
		spec := fmt.Sprintf("@every %ds", interval)
		for _, cameraID := range m.cameraIDs {
			cameraID := cameraID
			_, err := m.cron.AddFunc(spec, func() {
				if err := m.SweepCameraTier(cameraID, tierIdx); err != nil {
					log.Printf("[tier] scheduled sweep failed for %s tier %d: %v", cameraID, tierIdx, err)
				}
			})
			if err != nil {
				return fmt.Errorf("failed to schedule tier %d sweep for %s: %v", t.ID, cameraID, err)
			}
		}
	}
	m.cron.Start()

	if m.bus != nil {
		if _, err := m.bus.Subscribe("tier.check.>", m.handleCheckTier); err != nil {
			return fmt.Errorf("failed to subscribe to tier.check.>: %v", err)
		}
	}
	return nil
}

// handleCheckTier dispatches an ad-hoc check_tier event, coalesced by
// SweepCameraTier's singleflight group plus throttle window.
func (m *Manager) handleCheckTier(msg *nats.Msg) {
	cameraID, tierIdx, ok := subjectParts(msg.Subject)
	if !ok || tierIdx < 0 || tierIdx >= len(m.tiers) {
		log.Printf("[tier] ignoring malformed check_tier subject %q", msg.Subject)
		return
	}
	if err := m.SweepCameraTier(cameraID, tierIdx); err != nil {
		log.Printf("[tier] ad-hoc sweep failed for %s tier %d: %v", cameraID, tierIdx, err)
	}
}

// Stop halts the cron scheduler. If any tier has move_on_shutdown set, its
// cameras are swept unbounded first per spec.md §4.7's shutdown escape hatch.
func (m *Manager) Stop() {
	if m.cron != nil {
		ctx := m.cron.Stop()
		<-ctx.Done()
	}
	for tierIdx, t := range m.tiers {
		if !t.MoveOnShutdown {
			continue
		}
		for _, cameraID := range m.cameraIDs {
			if err := m.sweepUnbounded(cameraID, tierIdx); err != nil {
				log.Printf("[tier] shutdown sweep failed for %s tier %d: %v", cameraID, tierIdx, err)
			}
		}
	}
}

// SweepAll runs every (tier, camera) sweep once, bounded by
// maxConcurrentSweeps concurrent workers. Used for an initial catch-up pass
// at startup.
func (m *Manager) SweepAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSweeps)

	for tierIdx := range m.tiers {
		tierIdx := tierIdx
		for _, cameraID := range m.cameraIDs {
			cameraID := cameraID
			g.Go(func() error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				return m.SweepCameraTier(cameraID, tierIdx)
			})
		}
	}
	return g.Wait()
}

// SweepCameraTier runs one coalesced sweep of segments plus slaved
// thumbnail/event_clip assets for cameraID at tiers[tierIdx].
func (m *Manager) SweepCameraTier(cameraID string, tierIdx int) error {
	key := fmt.Sprintf("%s.%d", cameraID, tierIdx)
	if !m.allowRun(key) {
		return nil
	}

	_, err, _ := m.sf.Do(key, func() (any, error) {
		if err := m.sweepSegmentsAt(cameraID, tierIdx); err != nil {
			return nil, err
		}
		return nil, m.sweepSlavedAssets(cameraID)
	})
	return err
}

func (m *Manager) allowRun(key string) bool {
	m.throttleMu.Lock()
	defer m.throttleMu.Unlock()
	now := time.Now()
	if last, ok := m.lastRun[key]; ok && now.Sub(last) < throttleWindow {
		return false
	}
	m.lastRun[key] = now
	return true
}

// sweepSegmentsAt runs the selection algorithm for one camera+tier's
// `segments` subcategory and applies the resulting decisions in batches,
// per spec.md §4.7 steps 1-6.
func (m *Manager) sweepSegmentsAt(cameraID string, tierIdx int) error {
	t := m.tiers[tierIdx]
	files, err := m.db.ListFilesByCameraTier(cameraID, t.ID, database.CategoryRecorder, database.SubcategorySegments)
	if err != nil {
		return fmt.Errorf("failed to list segments for %s tier %d: %v", cameraID, t.ID, err)
	}
	if len(files) == 0 {
		return nil
	}

	recordings, err := m.db.ListRecordingsByCamera(cameraID, 0)
	if err != nil {
		return fmt.Errorf("failed to list recordings for %s: %v", cameraID, err)
	}

	nextContinuous, nextEvents := m.nextTiers(tierIdx)
	decisions := selectSegments(files, recordings, t, nextContinuous, nextEvents, time.Now())

	return m.applyDecisions(decisions)
}

// nextTiers returns the tier index immediately after tierIdx, for both
// roles; both roles currently share one linear chain, but the signature
// keeps room for a future branch point.
func (m *Manager) nextTiers(tierIdx int) (*int, *int) {
	next := tierIdx + 1
	if next >= len(m.tiers) {
		return nil, nil
	}
	return &next, &next
}

// applyDecisions executes decisions in batches of the tier runtime config's
// batch size, sleeping between batches to cap CPU (spec.md §4.7 step 6).
func (m *Manager) applyDecisions(decisions []decision) error {
	if len(decisions) == 0 {
		return nil
	}
	runtimeCfg, err := m.cfgSvc.GetTierRuntimeConfig()
	if err != nil {
		return err
	}
	batchSize := runtimeCfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for start := 0; start < len(decisions); start += batchSize {
		end := start + batchSize
		if end > len(decisions) {
			end = len(decisions)
		}
		for _, d := range decisions[start:end] {
			if err := m.applyOne(d); err != nil {
				log.Printf("[tier] failed to apply decision for %s: %v", d.file.Path, err)
			}
		}
		if end < len(decisions) {
			time.Sleep(100 * time.Millisecond)
		}
	}
	return nil
}

func (m *Manager) applyOne(d decision) error {
	if d.move {
		dest := m.tiers[d.destTierIdx]
		if uploader, ok := m.s3Uploaders[d.destTierIdx]; ok {
			return m.moveToS3(uploader, d.file, dest)
		}
		return moveFile(m.db, d.file, dest.ID, dest.Root)
	}
	return deleteFile(m.db, d.file)
}

// moveToS3 uploads f to the S3-backed dest tier, rewrites its row to point
// at the uploaded object, then removes the local file. dest.Root is still
// used as the row's tier_path marker so tierIndexOf's prefix matching
// continues to work for slaved thumbnail/clip moves into non-S3 tiers.
func (m *Manager) moveToS3(uploader *S3TierUploader, f database.File, dest config.TierConfig) error {
	key := s3Key(f)
	url, err := uploader.Upload(f.Path, key)
	if err != nil {
		return err
	}
	moved := f
	moved.TierID = dest.ID
	moved.TierPath = dest.Root
	moved.Path = url
	moved.Directory = dest.Root
	if err := m.db.MoveFile(f.Path, moved); err != nil {
		return fmt.Errorf("failed to update row for S3-moved file %s: %v", f.Path, err)
	}
	return removeIfExists(f.Path)
}

// sweepUnbounded runs the segments+slaved sweep with no batch throttling:
// the move_on_shutdown escape hatch for RAM-disk first tiers.
func (m *Manager) sweepUnbounded(cameraID string, tierIdx int) error {
	t := m.tiers[tierIdx]
	files, err := m.db.ListFilesByCameraTier(cameraID, t.ID, database.CategoryRecorder, database.SubcategorySegments)
	if err != nil {
		return err
	}
	nextContinuous, nextEvents := m.nextTiers(tierIdx)
	for _, f := range files {
		d := decision{file: f, move: nextContinuous != nil, destTierIdx: 0}
		if nextContinuous != nil {
			d.destTierIdx = *nextContinuous
		}
		if err := m.applyOne(d); err != nil {
			log.Printf("[tier] shutdown move failed for %s: %v", f.Path, err)
		}
	}
	return m.sweepSlavedAssets(cameraID)
}

// subjectParts splits a tier.check.<camera>.<tier>.<category>.<subcategory>
// subject back into its components.
func subjectParts(subject string) (cameraID string, tierIdx int, ok bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 6 || parts[0] != "tier" || parts[1] != "check" {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[3])
	if err != nil {
		return "", 0, false
	}
	return parts[2], n, true
}
