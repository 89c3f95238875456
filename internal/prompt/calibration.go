package prompt

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"promptloop/internal/logging"
)

// calibrationClause derives the Calibration Corrections block from recent
// paired evaluation scores. Returns "" when no tag clears the thresholds or
// when scores cannot be read; calibration is additive and never blocks
// assembly.
func (a *Assembler) calibrationClause() string {
	cal := a.cfg.Calibration

	scores, err := a.store.RecentEvalScores(cal.WindowSize)
	if err != nil {
		logging.Get(logging.CategoryPrompt).Warn("Calibration read failed: %v", err)
		return ""
	}

	type tagStats struct {
		count        int
		aiSum        float64
		communitySum float64
	}
	byTag := make(map[string]*tagStats)
	for _, sc := range scores {
		if sc.SampleSize < cal.MinSampleSize {
			continue
		}
		st, ok := byTag[sc.Tag]
		if !ok {
			st = &tagStats{}
			byTag[sc.Tag] = st
		}
		st.count++
		st.aiSum += sc.AIScore
		st.communitySum += sc.CommunityScore
	}

	var directives []string
	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		st := byTag[tag]
		if st.count < cal.MinObservations {
			continue
		}
		delta := st.communitySum/float64(st.count) - st.aiSum/float64(st.count)
		if math.Abs(delta) < cal.MinDelta {
			continue
		}

		direction := "higher"
		if delta < 0 {
			direction = "lower"
		}
		directives = append(directives, fmt.Sprintf(
			"For submissions tagged %q, the community consistently scores %.1f points %s than you do; adjust your scoring accordingly.",
			tag, math.Abs(delta), direction))
	}

	if len(directives) == 0 {
		return ""
	}

	logging.Prompt("Calibration clause active for %d tags", len(directives))
	return "Calibration Corrections:\n" + strings.Join(directives, "\n")
}
