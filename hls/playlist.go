// Package hls is the HLS Playlist Assembler (spec.md C8): it turns a window
// of Segment Index rows into the wire-format playlist spec.md §4.8/§6
// describes, the same string-builder style as the teacher's
// streaming/hls.go GenerateM3U8, generalized from a live TS muxer buffer to
// a query against the Segment Index.
package hls

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"nvr-core/database"
)

// staleWindow is spec.md §4.8's "Stale heuristic": a closed recording whose
// end_time is older than this is force-ENDLISTed even if its trailing
// fragment looks incomplete.
const staleWindow = 60 * time.Second

// gapEpsilon is the ε tolerance spec.md §4.8 allows between a fragment's end
// and the next fragment's start before it counts as a gap.
const gapEpsilon = 250 * time.Millisecond

// Routes resolves the URIs a playlist embeds. Built from the filesystem
// layout in spec.md §6 by the caller (hls.Handler), decoupling wire format
// from whatever path the HTTP server mounts files under.
type Routes struct {
	Init     func(cameraID string) string
	Fragment func(f database.File) string
}

// Window assembles a playlist for [from, to] against the camera's segments,
// deduping by filename (preferring the row with the latest created_at, per
// spec.md §4.8 step 1) and never emitting ENDLIST — a raw time window has no
// recording to close.
func Window(db database.Database, cameraID string, from, to time.Time, routes Routes) (string, error) {
	files, err := db.ListFilesInWindow(cameraID, from, to)
	if err != nil {
		return "", fmt.Errorf("failed to list files in window for %s: %v", cameraID, err)
	}
	files = dedupeByFilename(files)
	return build(cameraID, files, routes, false), nil
}

// Recording assembles a playlist for one closed or in-progress recording.
// Returns ("", false, nil) when the recording doesn't exist, so
// the caller can translate that to an HTTP 404 (spec.md §7 "HLS requests
// against a nonexistent recording return 404").
func Recording(db database.Database, recordingID string, now time.Time, routes Routes) (string, bool, error) {
	r, err := db.GetRecording(recordingID)
	if err != nil {
		return "", false, fmt.Errorf("failed to get recording %s: %v", recordingID, err)
	}
	if r == nil {
		return "", false, nil
	}

	files, err := db.ListFilesByRecording(recordingID)
	if err != nil {
		return "", false, fmt.Errorf("failed to list files for recording %s: %v", recordingID, err)
	}
	files = dedupeByFilename(files)

	endlist := r.EndTime != nil
	_ = now // staleness only affects *when* end_time gets set elsewhere; here end_time's mere presence is authoritative, per spec.md §4.8.
	return build(r.CameraID, files, routes, endlist), true, nil
}

func dedupeByFilename(files []database.File) []database.File {
	best := map[string]database.File{}
	for _, f := range files {
		cur, ok := best[f.Filename]
		if !ok || f.CreatedAt.After(cur.CreatedAt) {
			best[f.Filename] = f
		}
	}
	out := make([]database.File, 0, len(best))
	for _, f := range best {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrigCTime.Before(out[j].OrigCTime) })
	return out
}

func build(cameraID string, files []database.File, routes Routes, endlist bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:6\n")
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence(files)))
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration(files)))
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")
	if routes.Init != nil {
		b.WriteString(fmt.Sprintf("#EXT-X-MAP:URI=%q\n", routes.Init(cameraID)))
	}

	for i, f := range files {
		b.WriteString("#EXT-X-DISCONTINUITY\n")
		b.WriteString(fmt.Sprintf("#EXT-X-PROGRAM-DATE-TIME:%s\n", f.OrigCTime.UTC().Format(time.RFC3339Nano)))
		b.WriteString(fmt.Sprintf("#EXTINF:%s,\n", durationString(f)))
		b.WriteString(routes.Fragment(f) + "\n")

		if i+1 < len(files) {
			gap := gapBetween(f, files[i+1])
			if gap > gapEpsilon {
				// synthesize a gap entry pointing at the next real fragment;
				// HLS clients ignore a #EXT-X-GAP segment's URI.
				b.WriteString("#EXT-X-GAP\n")
				b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", gap.Seconds()))
				b.WriteString(routes.Fragment(files[i+1]) + "\n")
			}
		}
	}

	if endlist {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

func mediaSequence(files []database.File) int64 {
	if len(files) == 0 {
		return 0
	}
	return files[0].OrigCTime.Unix()
}

func targetDuration(files []database.File) int {
	max := 0.0
	for _, f := range files {
		if f.Duration != nil && *f.Duration > max {
			max = *f.Duration
		}
	}
	return int(math.Ceil(max))
}

func durationString(f database.File) string {
	if f.Duration == nil {
		return "0.000"
	}
	return fmt.Sprintf("%.3f", *f.Duration)
}

func gapBetween(a, b database.File) time.Duration {
	dur := 0.0
	if a.Duration != nil {
		dur = *a.Duration
	}
	end := a.OrigCTime.Add(time.Duration(dur * float64(time.Second)))
	return b.OrigCTime.Sub(end)
}
