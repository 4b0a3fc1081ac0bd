package scanner

import (
	"image"

	"golang.org/x/image/draw"
)

// decodeResizeInfer is the Decoder Worker's per-frame body (spec.md §4.3):
// decode once, resize to the scanner's declared input size (cached on the
// Frame so two scanners sharing an input size share one resize), invoke
// the detector's pure infer function.
func decodeResizeInfer(f *Frame, s *Scanner) (Result, error) {
	decoded := f.decodedRGBA()

	width, height := s.Detector.InputSize()
	if width <= 0 || height <= 0 {
		return s.Detector.Infer(decoded)
	}

	view, ok := f.cachedView(width, height)
	if !ok {
		view = resize(decoded, width, height)
		f.storeView(width, height, view)
	}
	return s.Detector.Infer(view)
}

// resize scales src to width x height using bilinear interpolation,
// adopted from jmylchreest-tvarr's use of golang.org/x/image for image
// resampling (this repo's teacher does all its image work by shelling out
// to ffmpeg and has no in-process resize of its own).
func resize(src *image.RGBA, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
