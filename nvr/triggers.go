package nvr

import (
	"nvr-core/config"
	"nvr-core/scanner"
)

// filterObjects applies spec.md §4.6 step 1's per-label object filters: a
// filter drops an object if its label isn't configured, confidence is
// below threshold, its relative box falls outside the configured
// width/height range, or it requires motion that isn't currently present.
// It returns the surviving objects and whether any of them passed with
// trigger_event_recording = true.
func filterObjects(objects []scanner.DetectedObject, filters []config.ObjectFilter, motionDetected bool) (kept []scanner.DetectedObject, triggers bool) {
	for _, obj := range objects {
		filter, ok := findFilter(filters, obj.Label)
		if !ok {
			continue
		}
		if obj.Confidence < filter.ConfidenceThreshold {
			continue
		}
		if obj.Width < filter.WidthMin || obj.Width > filter.WidthMax {
			continue
		}
		if obj.Height < filter.HeightMin || obj.Height > filter.HeightMax {
			continue
		}
		if filter.RequireMotion && !motionDetected {
			continue
		}
		kept = append(kept, obj)
		if filter.TriggerEventRecording {
			triggers = true
		}
	}
	return kept, triggers
}

func findFilter(filters []config.ObjectFilter, label string) (config.ObjectFilter, bool) {
	for _, f := range filters {
		if f.Label == label {
			return f, true
		}
	}
	return config.ObjectFilter{}, false
}
