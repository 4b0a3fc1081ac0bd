package tier

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"nvr-core/database"
)

// sweepSlavedAssets implements spec.md §4.7's thumbnail/event_clip rule:
// both are slaved to their parent Recording rather than selected
// independently. Once every segment fragment of a recording has moved past
// the tier the thumbnail/clip currently sits at, the thumbnail and clip
// follow. A recording with no surviving fragments and a closed end_time is
// pruned outright: its row, thumbnail and clip are all deleted together.
func (m *Manager) sweepSlavedAssets(cameraID string) error {
	recordings, err := m.db.ListRecordingsByCamera(cameraID, 0)
	if err != nil {
		return fmt.Errorf("failed to list recordings for %s: %v", cameraID, err)
	}

	for _, r := range recordings {
		files, err := m.db.ListFilesByRecording(r.ID)
		if err != nil {
			log.Printf("[tier] failed to list files for recording %s: %v", r.ID, err)
			continue
		}

		if len(files) == 0 && r.EndTime != nil {
			m.pruneRecording(r)
			continue
		}
		if len(files) == 0 {
			continue
		}

		commonTier, uniform := commonTierID(files)
		if !uniform {
			// fragments mid-transition across tiers: wait for the sweep
			// that finishes moving them all before moving the slaved assets.
			continue
		}

		m.advanceSlavedAsset(r, commonTier)
	}
	return nil
}

// commonTierID returns the single tier id shared by every file, or ok=false
// if the recording's fragments are currently split across tiers.
func commonTierID(files []database.File) (int, bool) {
	id := files[0].TierID
	for _, f := range files[1:] {
		if f.TierID != id {
			return 0, false
		}
	}
	return id, true
}

// tierIndexOf returns the index into m.tiers whose root prefixes path, or -1.
func (m *Manager) tierIndexOf(path string) int {
	for i, t := range m.tiers {
		if strings.HasPrefix(path, t.Root) {
			return i
		}
	}
	return -1
}

func (m *Manager) advanceSlavedAsset(r database.Recording, segmentsTierIdx int) {
	if segmentsTierIdx >= len(m.tiers) {
		return
	}
	if r.ThumbnailPath != "" {
		if cur := m.tierIndexOf(r.ThumbnailPath); cur >= 0 && cur != segmentsTierIdx {
			newPath, err := m.moveBareAsset(r.ThumbnailPath, segmentsTierIdx, string(database.SubcategoryThumbnails), r.CameraID)
			if err != nil {
				log.Printf("[tier] failed to move thumbnail for recording %s: %v", r.ID, err)
			} else if newPath != "" {
				if err := m.db.SetRecordingThumbnailPath(r.ID, newPath); err != nil {
					log.Printf("[tier] failed to persist thumbnail path for recording %s: %v", r.ID, err)
				}
			}
		}
	}
	if r.ClipPath != "" {
		if cur := m.tierIndexOf(r.ClipPath); cur >= 0 && cur != segmentsTierIdx {
			newPath, err := m.moveBareAsset(r.ClipPath, segmentsTierIdx, string(database.SubcategoryEventClips), r.CameraID)
			if err != nil {
				log.Printf("[tier] failed to move event clip for recording %s: %v", r.ID, err)
			} else if newPath != "" {
				if err := m.db.SetRecordingClipPath(r.ID, newPath); err != nil {
					log.Printf("[tier] failed to persist clip path for recording %s: %v", r.ID, err)
				}
			}
		}
	}
}

// moveBareAsset moves a thumbnail/clip path to destTierIdx, uploading
// instead of copying when that tier is S3-backed.
func (m *Manager) moveBareAsset(srcPath string, destTierIdx int, subcategory, cameraID string) (string, error) {
	dest := m.tiers[destTierIdx]
	if uploader, ok := m.s3Uploaders[destTierIdx]; ok {
		key := fmt.Sprintf("%s/%s/%s/%s", database.CategoryRecorder, subcategory, cameraID, filepath.Base(srcPath))
		url, err := uploader.Upload(srcPath, key)
		if err != nil {
			return "", err
		}
		if err := removeIfExists(srcPath); err != nil {
			return "", err
		}
		return url, nil
	}
	return moveBarePath(srcPath, dest.Root, string(database.CategoryRecorder), subcategory, cameraID)
}

func (m *Manager) pruneRecording(r database.Recording) {
	if r.ThumbnailPath != "" {
		if err := removeIfExists(r.ThumbnailPath); err != nil {
			log.Printf("[tier] failed to remove thumbnail for pruned recording %s: %v", r.ID, err)
		}
	}
	if r.ClipPath != "" {
		if err := removeIfExists(r.ClipPath); err != nil {
			log.Printf("[tier] failed to remove event clip for pruned recording %s: %v", r.ID, err)
		}
	}
	if err := m.db.DeleteRecording(r.ID); err != nil {
		log.Printf("[tier] failed to delete pruned recording %s: %v", r.ID, err)
	}
}
