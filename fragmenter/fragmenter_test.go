package fragmenter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFirstEXTINF(t *testing.T) {
	dir := t.TempDir()
	playlistPath := filepath.Join(dir, "master_1.m3u8")
	content := "#EXTM3U\n#EXT-X-VERSION:7\n#EXTINF:4.96,\nclip_1.m4s\n#EXT-X-ENDLIST\n"
	if err := os.WriteFile(playlistPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := parseFirstEXTINF(playlistPath)
	if err != nil {
		t.Fatalf("parseFirstEXTINF() error = %v", err)
	}
	if got != 4.96 {
		t.Fatalf("parseFirstEXTINF() = %v, want 4.96", got)
	}
}

func TestParseFirstEXTINFMissing(t *testing.T) {
	dir := t.TempDir()
	playlistPath := filepath.Join(dir, "master_1.m3u8")
	if err := os.WriteFile(playlistPath, []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := parseFirstEXTINF(playlistPath); err == nil {
		t.Fatalf("expected error when no #EXTINF line is present")
	}
}

func TestSweepCameraSkipsNonMP4Files(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	fr := New(nil, nil)
	c := Camera{ID: "cam1", TempDir: dir, SegmentsDir: filepath.Join(dir, "segments")}
	if err := fr.sweepCamera(c); err != nil {
		t.Fatalf("sweepCamera() error = %v", err)
	}
	// non-mp4 entries are left untouched.
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("expected notes.txt to remain: %v", err)
	}
}

func TestAddAndRemoveCamera(t *testing.T) {
	fr := New(nil, nil)
	fr.AddCamera(Camera{ID: "cam1"})
	if len(fr.snapshot()) != 1 {
		t.Fatalf("expected 1 camera after AddCamera")
	}
	fr.RemoveCamera("cam1")
	if len(fr.snapshot()) != 0 {
		t.Fatalf("expected 0 cameras after RemoveCamera")
	}
}

func TestBuildConcatPlaylistIncludesMapAndFragments(t *testing.T) {
	dir := t.TempDir()
	initPath := filepath.Join(dir, "init.mp4")
	frag1 := filepath.Join(dir, "a.m4s")
	frag2 := filepath.Join(dir, "b.m4s")

	playlist, err := buildConcatPlaylist(initPath, []string{frag1, frag2}, []float64{5, 4.5})
	if err != nil {
		t.Fatalf("buildConcatPlaylist() error = %v", err)
	}

	for _, want := range []string{"#EXT-X-MAP:URI=", "init.mp4", "a.m4s", "b.m4s", "#EXT-X-ENDLIST"} {
		if !strings.Contains(playlist, want) {
			t.Errorf("playlist missing %q:\n%s", want, playlist)
		}
	}
}

func TestConcatFragmentsRejectsMismatchedLengths(t *testing.T) {
	err := ConcatFragments("init.mp4", []string{"a.m4s"}, []float64{1, 2}, t.TempDir(), filepath.Join(t.TempDir(), "out.mp4"))
	if err == nil {
		t.Fatalf("expected error on mismatched fragments/durations length")
	}
}
