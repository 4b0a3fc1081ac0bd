package fragmenter

import (
	"bytes"
	"fmt"
	"io"
	"os"

	amp4 "github.com/abema/go-mp4"
)

// mvhdDuration reads the `moov/mvhd` box's movie-header duration from an
// MP4 file, in seconds. It expects `moov` right after `ftyp` and `mvhd` as
// the first child of `moov`. Nothing in the Fragmenter calls it: the
// recorded duration is the EXTINF value alone. The box walk follows
// bluenviron-mediamtx, which reads `mvhd` directly rather than re-muxing
// to get duration metadata.
func mvhdDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 8)
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, fmt.Errorf("read ftyp header: %w", err)
	}
	if !bytes.Equal(buf[4:], []byte("ftyp")) {
		return 0, fmt.Errorf("ftyp box not found")
	}
	ftypSize := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])

	if _, err := f.Seek(int64(ftypSize), io.SeekStart); err != nil {
		return 0, err
	}

	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, fmt.Errorf("read moov header: %w", err)
	}
	if !bytes.Equal(buf[4:], []byte("moov")) {
		return 0, fmt.Errorf("moov box not found")
	}

	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, fmt.Errorf("read mvhd header: %w", err)
	}
	if !bytes.Equal(buf[4:], []byte("mvhd")) {
		return 0, fmt.Errorf("mvhd box not found at start of moov")
	}
	mvhdSize := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])

	var mvhd amp4.Mvhd
	if _, err := amp4.Unmarshal(f, uint64(mvhdSize-8), &mvhd, amp4.Context{}); err != nil {
		return 0, fmt.Errorf("unmarshal mvhd: %w", err)
	}

	if mvhd.Version == 1 {
		if mvhd.TimescaleV1 == 0 {
			return 0, fmt.Errorf("mvhd timescale is zero")
		}
		return float64(mvhd.DurationV1) / float64(mvhd.TimescaleV1), nil
	}
	if mvhd.TimescaleV0 == 0 {
		return 0, fmt.Errorf("mvhd timescale is zero")
	}
	return float64(mvhd.DurationV0) / float64(mvhd.TimescaleV0), nil
}
