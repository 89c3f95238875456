// Package prompt assembles the live system prompt from versioned sections,
// manages the section version lifecycle, and derives calibration corrections
// from paired evaluation scores.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"promptloop/internal/config"
	"promptloop/internal/logging"
	"promptloop/internal/store"
)

// Fingerprint sentinels for the two degraded assembly outcomes. "hardcoded"
// means no active sections exist; "fallback" means persistence failed.
const (
	FingerprintHardcoded = "hardcoded"
	FingerprintFallback  = "fallback"
)

// AssembledPrompt is the assembly result with full version provenance.
// When FromDB is false the caller substitutes BaselinePrompt.
type AssembledPrompt struct {
	Text               string
	VersionFingerprint string
	FromDB             bool
	SectionVersions    map[string]int
}

// Assembler builds the prompt text from the active section rows.
// It is read-only; assembly never mutates the store.
type Assembler struct {
	store *store.LocalStore
	cfg   *config.PromptConfig
}

// NewAssembler creates an assembler over the given store and prompt config.
func NewAssembler(s *store.LocalStore, cfg *config.PromptConfig) *Assembler {
	return &Assembler{store: s, cfg: cfg}
}

// Assemble produces the prompt for one analysis request. Degrades instead of
// failing: an empty section store yields the "hardcoded" signal and a
// persistence error yields "fallback" with a nil error, so assembly is never
// the reason a live request fails.
func (a *Assembler) Assemble(ctx context.Context, includeFollowup bool) (*AssembledPrompt, error) {
	timer := logging.StartTimer(logging.CategoryPrompt, "Assemble")
	defer timer.Stop()

	keys := a.requiredKeys(includeFollowup)

	sections, err := a.store.GetActiveSections(keys)
	if err != nil {
		logging.Get(logging.CategoryPrompt).Error("Assembly persistence error: %v", err)
		return &AssembledPrompt{
			VersionFingerprint: FingerprintFallback,
			FromDB:             false,
		}, nil
	}

	if len(sections) == 0 {
		logging.Prompt("No active sections; degrading to baseline")
		return &AssembledPrompt{
			VersionFingerprint: FingerprintHardcoded,
			FromDB:             false,
		}, nil
	}

	// One row per key, highest version wins. Guards against a transiently
	// observed double-active row during activation.
	byKey := make(map[string]*store.PromptSection)
	for _, sec := range sections {
		if prev, ok := byKey[sec.SectionKey]; !ok || sec.Version > prev.Version {
			byKey[sec.SectionKey] = sec
		}
	}

	deduped := make([]*store.PromptSection, 0, len(byKey))
	for _, sec := range byKey {
		deduped = append(deduped, sec)
	}
	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].OrderIndex != deduped[j].OrderIndex {
			return deduped[i].OrderIndex < deduped[j].OrderIndex
		}
		return deduped[i].SectionKey < deduped[j].SectionKey
	})

	parts := make([]string, 0, len(deduped))
	versions := make(map[string]int, len(deduped))
	for _, sec := range deduped {
		parts = append(parts, sec.Content)
		versions[sec.SectionKey] = sec.Version
	}
	text := strings.Join(parts, "\n\n")

	if clause := a.calibrationClause(); clause != "" {
		text += "\n\n" + clause
	}

	fingerprint := buildFingerprint(versions)
	logging.PromptDebug("Assembled prompt: %d sections, fingerprint=%s followup=%v",
		len(deduped), fingerprint, includeFollowup)

	return &AssembledPrompt{
		Text:               text,
		VersionFingerprint: fingerprint,
		FromDB:             true,
		SectionVersions:    versions,
	}, nil
}

// requiredKeys returns the base key set, extended with follow-up keys when
// requested.
func (a *Assembler) requiredKeys(includeFollowup bool) []string {
	keys := make([]string, 0, len(a.cfg.BaseSectionKeys)+len(a.cfg.FollowupSectionKeys))
	keys = append(keys, a.cfg.BaseSectionKeys...)
	if includeFollowup {
		keys = append(keys, a.cfg.FollowupSectionKeys...)
	}
	return keys
}

// buildFingerprint renders sorted key:version pairs joined by "|". Changes
// iff the effective prompt composition changes.
func buildFingerprint(versions map[string]int) string {
	keys := make([]string, 0, len(versions))
	for key := range versions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s:%d", key, versions[key]))
	}
	return strings.Join(pairs, "|")
}

// EstimateTokens approximates the token count of a text with the chars/4
// heuristic, rounding up. Shared with budget reservation estimates.
func EstimateTokens(text string) int64 {
	return int64((len(text) + 3) / 4)
}
