package ingest

import (
	"bytes"
	"testing"

	"nvr-core/scanner"
)

func TestReadLoopPublishesWholeFramesAndErrorsOnShortRead(t *testing.T) {
	const width, height = 2, 2
	frameSize := width * height * 3 / 2

	// two full frames followed by a truncated third.
	data := append(make([]byte, frameSize), make([]byte, frameSize)...)
	data = append(data, make([]byte, frameSize/2)...)

	var received []*scanner.Frame
	r := &Reader{
		Width:  width,
		Height: height,
		OnFrame: func(f *scanner.Frame) {
			received = append(received, f)
		},
	}

	err := r.readLoop(bytes.NewReader(data), frameSize)
	if err == nil {
		t.Fatalf("expected short-read error, got nil")
	}
	if len(received) != 2 {
		t.Fatalf("received %d frames, want 2", len(received))
	}
}

func TestReaderFrameStreamURLPrefersSubstream(t *testing.T) {
	r := &Reader{RTSPURL: "rtsp://main", SubstreamURL: "rtsp://sub"}
	if got := r.frameStreamURL(); got != "rtsp://sub" {
		t.Fatalf("frameStreamURL() = %q, want substream", got)
	}

	r2 := &Reader{RTSPURL: "rtsp://main"}
	if got := r2.frameStreamURL(); got != "rtsp://main" {
		t.Fatalf("frameStreamURL() = %q, want main stream when no substream configured", got)
	}
}
