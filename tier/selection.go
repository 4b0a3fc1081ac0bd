package tier

import (
	"time"

	"nvr-core/config"
	"nvr-core/database"
)

// decision is the per-fragment outcome of the selection algorithm:
// spec.md §4.7 step 5.
type decision struct {
	file       database.File
	move       bool
	destTierIdx int
}

// selectSegments runs the dual continuous/events candidate-set algorithm for
// one camera's segments on one tier, per spec.md §4.7 steps 1-5. files must
// already be ordered by orig_ctime ascending (database.Database's
// ListFilesByCameraTier guarantees this). recordings is every Recording for
// the camera whose interval could intersect the fragment set.
func selectSegments(files []database.File, recordings []database.Recording, tier config.TierConfig, nextContinuousTier, nextEventsTier *int, now time.Time) []decision {
	recByID := make(map[string]database.Recording, len(recordings))
	for _, r := range recordings {
		recByID[r.ID] = r
	}

	continuousSet := continuousDeletionSet(files, tier, now)
	eventsSet := eventsDeletionSet(files, recByID, tier, now)

	decisions := make([]decision, 0, len(files))
	for _, f := range files {
		inRecording := f.RecordingID != ""
		_, inContinuousSet := continuousSet[f.Path]
		_, inEventsSet := eventsSet[f.Path]

		switch {
		case inRecording && inEventsSet && nextEventsTier != nil && nextContinuousTier != nil && inContinuousSet:
			// in both sets: move to whichever next tier has the lower id.
			dest := *nextEventsTier
			if *nextContinuousTier < dest {
				dest = *nextContinuousTier
			}
			decisions = append(decisions, decision{file: f, move: true, destTierIdx: dest})
		case inRecording && inEventsSet:
			if nextEventsTier != nil {
				decisions = append(decisions, decision{file: f, move: true, destTierIdx: *nextEventsTier})
			} else {
				decisions = append(decisions, decision{file: f, move: false})
			}
		case !inRecording && inContinuousSet:
			if nextContinuousTier != nil {
				decisions = append(decisions, decision{file: f, move: true, destTierIdx: *nextContinuousTier})
			} else {
				decisions = append(decisions, decision{file: f, move: false})
			}
		}
	}
	return decisions
}

// continuousDeletionSet implements spec.md §4.7 step 4's "Continuous" rule:
// among all fragments regardless of recording membership, working from
// oldest forward, a fragment is included if it's past the lookback window
// and either the max-bytes-and-min-age or the max-age-and-min-bytes
// condition holds against the remaining-bytes running total.
func continuousDeletionSet(files []database.File, tier config.TierConfig, now time.Time) map[string]struct{} {
	out := map[string]struct{}{}
	policy := tier.Continuous

	lookbackCutoff := now.Add(-time.Duration(tier.LookbackSeconds) * time.Second)

	var total int64
	for _, f := range files {
		total += f.Size
	}

	remaining := total
	for _, f := range files {
		if !f.OrigCTime.Before(lookbackCutoff) {
			// inside the preserved lookback window: never eligible.
			continue
		}
		ageOK1 := policy.MaxBytes > 0 && remaining > policy.MaxBytes && !f.OrigCTime.After(now.Add(-policy.MinAge))
		ageOK2 := policy.MaxAge > 0 && !f.OrigCTime.After(now.Add(-policy.MaxAge)) && policy.MinBytes > 0 && remaining >= policy.MinBytes
		if ageOK1 || ageOK2 {
			out[f.Path] = struct{}{}
		}
		remaining -= f.Size
	}
	return out
}

// eventsDeletionSet implements spec.md §4.7 step 4's "Events" rule: group
// fragments by recording id, compute each recording's total size, and
// working from the oldest recording forward include a recording's fragments
// while the bytes not yet selected for deletion still exceed the policy
// threshold — the same decreasing-remaining-total shape as
// continuousDeletionSet.
func eventsDeletionSet(files []database.File, recByID map[string]database.Recording, tier config.TierConfig, now time.Time) map[string]struct{} {
	out := map[string]struct{}{}

	type group struct {
		recordingID string
		createdAt   time.Time
		size        int64
		files       []database.File
	}
	groups := map[string]*group{}
	var order []string
	for _, f := range files {
		if f.RecordingID == "" {
			continue
		}
		g, ok := groups[f.RecordingID]
		if !ok {
			createdAt := now
			if r, ok := recByID[f.RecordingID]; ok {
				createdAt = r.CreatedAt
			}
			g = &group{recordingID: f.RecordingID, createdAt: createdAt}
			groups[f.RecordingID] = g
			order = append(order, f.RecordingID)
		}
		g.size += f.Size
		g.files = append(g.files, f)
	}

	// oldest recording first.
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if groups[order[j]].createdAt.Before(groups[order[i]].createdAt) {
				order[i], order[j] = order[j], order[i]
			}
		}
	}

	policy := tier.Events
	var remaining int64
	for _, g := range groups {
		remaining += g.size
	}

	for _, id := range order {
		g := groups[id]

		cond1 := policy.MaxBytes > 0 && remaining > policy.MaxBytes && !g.createdAt.After(now.Add(-policy.MinAge))
		cond2 := policy.MaxAge > 0 && !g.createdAt.After(now.Add(-policy.MaxAge)) && policy.MinBytes > 0 && remaining >= policy.MinBytes
		if cond1 || cond2 {
			for _, f := range g.files {
				out[f.Path] = struct{}{}
			}
		}
		remaining -= g.size
	}
	return out
}
