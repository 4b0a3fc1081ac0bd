package ingest

import (
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult is what the Startup sequence (spec.md §4.1) needs from the
// external prober before composing the decoder command.
type ProbeResult struct {
	Width  int
	Height int
	FPS    float64
	Codec  string
}

// Probe runs ffprobe against rtspURL, grounded on the teacher's
// detectStreamInfo (recording/recording.go) but extended to also recover
// width/height/fps since the Stream Reader needs them to size its raw
// frame reads (spec.md §4.1: "read exactly width*height*1.5 bytes").
func Probe(rtspURL string, timeout time.Duration) (ProbeResult, error) {
	cmd := exec.Command("ffprobe",
		"-v", "quiet",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,codec_name",
		"-of", "csv=p=0",
		"-rtsp_transport", "tcp",
		"-timeout", strconv.FormatInt(timeout.Microseconds(), 10),
		rtspURL,
	)

	out, err := cmd.Output()
	if err != nil {
		return ProbeResult{}, err
	}

	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return ProbeResult{}, nil
	}

	width, _ := strconv.Atoi(fields[0])
	height, _ := strconv.Atoi(fields[1])
	fps := parseFrameRate(fields[2])
	codec := fields[3]

	return ProbeResult{Width: width, Height: height, FPS: fps, Codec: codec}, nil
}

// parseFrameRate turns ffprobe's "30000/1001"-style r_frame_rate into a
// float, returning 0 on any malformed input (callers fall back to the
// operator-supplied override per spec.md §4.1).
func parseFrameRate(raw string) float64 {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(raw, 64)
		return v
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
