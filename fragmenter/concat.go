package fragmenter

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ConcatFragments materializes a single-file MP4 from an ordered set of
// fragments plus their init segment, for event clip generation (spec.md
// §4.4 "Concatenation"). It builds an in-memory HLS playlist with a
// leading EXT-X-MAP pointing at initPath, writes it to a scratch file (the
// external decoder reads the playlist as its input from a real path), and stream-copies
// it into outputPath. Adapted from the teacher's fastConcatSegments
// (recording/recording.go), stripped of the booking-duration/watermark
// logic that doesn't apply to plain fragment concatenation.
func ConcatFragments(initPath string, fragments []string, durations []float64, workDir, outputPath string) error {
	if len(fragments) != len(durations) {
		return fmt.Errorf("fragments/durations length mismatch: %d != %d", len(fragments), len(durations))
	}
	if len(fragments) == 0 {
		return fmt.Errorf("no fragments to concatenate")
	}

	playlist, err := buildConcatPlaylist(initPath, fragments, durations)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	playlistPath := filepath.Join(workDir, fmt.Sprintf("concat_%s.m3u8", uuid.NewString()))
	if err := os.WriteFile(playlistPath, []byte(playlist), 0o644); err != nil {
		return fmt.Errorf("write concat playlist: %w", err)
	}
	defer os.Remove(playlistPath)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	cmd := exec.Command("ffmpeg",
		"-y",
		"-protocol_whitelist", "file,http,https,tcp,tls,crypto",
		"-i", playlistPath,
		"-c", "copy",
		outputPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w\noutput: %s", err, string(out))
	}
	return nil
}

// buildConcatPlaylist writes the HLS playlist spec.md §4.4 describes: a
// leading EXT-X-MAP pointing at the init segment, then one #EXTINF/path
// pair per fragment in order.
func buildConcatPlaylist(initPath string, fragments []string, durations []float64) (string, error) {
	absInit, err := filepath.Abs(initPath)
	if err != nil {
		return "", fmt.Errorf("resolve init path: %w", err)
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")
	b.WriteString("#EXT-X-TARGETDURATION:10\n")
	fmt.Fprintf(&b, "#EXT-X-MAP:URI=\"%s\"\n", absInit)

	for i, frag := range fragments {
		absFrag, err := filepath.Abs(frag)
		if err != nil {
			return "", fmt.Errorf("resolve fragment path %q: %w", frag, err)
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", durations[i])
		b.WriteString(absFrag)
		b.WriteString("\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String(), nil
}
