// Package distill compresses the growing signal streams (resolved critique
// findings, mutation insights, discovered rules, scoring insights) into a
// small bounded learning-memory block injected into future prompts.
package distill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"promptloop/internal/config"
	"promptloop/internal/logging"
	"promptloop/internal/store"
)

// memoryHeader introduces the compiled bullet block inside the prompt.
const memoryHeader = "Lessons from recent feedback cycles:"

// Distiller pulls bounded slices from each signal source and compiles them
// into one bullet list.
type Distiller struct {
	bus   *store.BusStore
	store *store.LocalStore
	cfg   *config.DistillConfig
}

// NewDistiller creates a distiller over the bus, the main store, and the
// distillation config.
func NewDistiller(bus *store.BusStore, s *store.LocalStore, cfg *config.DistillConfig) *Distiller {
	return &Distiller{bus: bus, store: s, cfg: cfg}
}

// sourceResult is one source's contribution, kept in fixed source order so
// the compiled output is deterministic regardless of goroutine scheduling.
type sourceResult struct {
	bullets []string
	ruleIDs []int64
}

// DistillLearningMemory compiles the current signal streams into a bounded
// bullet block and persists it. Sources are pulled in parallel; a failing
// source contributes nothing and never aborts the others. Returns "" and
// persists nothing when no bullets survive.
func (d *Distiller) DistillLearningMemory(ctx context.Context) (string, error) {
	timer := logging.StartTimer(logging.CategoryDistill, "DistillLearningMemory")
	defer timer.Stop()

	since := time.Now().AddDate(0, 0, -d.cfg.WindowDays)
	results := make([]sourceResult, 4)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		results[0].bullets = d.pullBusStrings(egCtx, "critique", "finding_resolved", "finding", since)
		return nil
	})
	eg.Go(func() error {
		results[1].bullets = d.pullBusStrings(egCtx, "mutation", "insight", "insight", since)
		return nil
	})
	eg.Go(func() error {
		results[2].bullets, results[2].ruleIDs = d.pullDiscoveredRules()
		return nil
	})
	eg.Go(func() error {
		results[3].bullets = d.pullBusStrings(egCtx, "scoring", "insight", "insight", since)
		return nil
	})
	// Sources never return errors; each catches its own failures
	_ = eg.Wait()

	sourceEntries := 0
	seen := make(map[string]bool)
	var bullets []string
	for _, res := range results {
		sourceEntries += len(res.bullets)
		for _, b := range res.bullets {
			if seen[b] {
				continue
			}
			seen[b] = true
			bullets = append(bullets, b)
		}
	}

	if len(bullets) > d.cfg.MaxBullets {
		bullets = bullets[:d.cfg.MaxBullets]
	}
	if len(bullets) == 0 {
		logging.Distill("No signals survived distillation; nothing persisted")
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(memoryHeader)
	for _, b := range bullets {
		sb.WriteString("\n- ")
		sb.WriteString(b)
	}
	text := sb.String()

	if err := d.store.AppendLearningMemory(text, len(bullets), sourceEntries); err != nil {
		return "", fmt.Errorf("failed to persist learning memory: %w", err)
	}
	if ruleIDs := incorporatedRuleIDs(results, bullets); len(ruleIDs) > 0 {
		if err := d.store.MarkRulesIncorporated(ruleIDs); err != nil {
			logging.Get(logging.CategoryDistill).Warn("Failed to mark rules incorporated: %v", err)
		}
	}

	logging.Distill("Compiled learning memory: %d bullets from %d source entries",
		len(bullets), sourceEntries)
	return text, nil
}

// incorporatedRuleIDs returns the IDs of pulled rules whose text survived
// dedup and the bullet cap. A rule cut from the compiled memory stays
// unincorporated so a later run can still pick it up.
func incorporatedRuleIDs(results []sourceResult, final []string) []int64 {
	kept := make(map[string]bool, len(final))
	for _, b := range final {
		kept[b] = true
	}

	var ids []int64
	for _, res := range results {
		for i, id := range res.ruleIDs {
			if kept[res.bullets[i]] {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// GetLatestLearningMemory returns the newest compiled text, or "" when none
// exists or the read fails.
func (d *Distiller) GetLatestLearningMemory(ctx context.Context) string {
	mem, err := d.store.LatestLearningMemory()
	if err != nil {
		logging.Get(logging.CategoryDistill).Warn("Failed to read learning memory: %v", err)
		return ""
	}
	if mem == nil {
		return ""
	}
	return mem.CompiledText
}

// pullBusStrings reads one channel slice and extracts the named payload
// field from each event. Read failures and malformed items contribute
// nothing.
func (d *Distiller) pullBusStrings(ctx context.Context, channel, eventType, field string, since time.Time) []string {
	events, err := d.bus.Read(channel, store.ReadOptions{
		EventType: eventType,
		Since:     since,
		Limit:     d.cfg.TopK,
	})
	if err != nil {
		logging.Get(logging.CategoryDistill).Warn("Source %s/%s failed: %v", channel, eventType, err)
		return nil
	}

	var out []string
	for _, ev := range events {
		var payload map[string]interface{}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logging.DistillDebug("Skipping undecodable event %s on %s", ev.ID, channel)
			continue
		}
		text, ok := payload[field].(string)
		if !ok || strings.TrimSpace(text) == "" {
			logging.DistillDebug("Skipping event %s on %s: missing %q", ev.ID, channel, field)
			continue
		}
		out = append(out, strings.TrimSpace(text))
	}
	return out
}

// pullDiscoveredRules reads high-confidence unincorporated rules. The
// returned IDs are index-aligned with the bullets.
func (d *Distiller) pullDiscoveredRules() ([]string, []int64) {
	rules, err := d.store.UnincorporatedRules(d.cfg.MinRuleConfidence)
	if err != nil {
		logging.Get(logging.CategoryDistill).Warn("Rule source failed: %v", err)
		return nil, nil
	}

	limit := len(rules)
	if limit > d.cfg.TopK {
		limit = d.cfg.TopK
	}

	var bullets []string
	var ids []int64
	for _, r := range rules[:limit] {
		text := strings.TrimSpace(r.Rule)
		if text == "" {
			continue
		}
		bullets = append(bullets, text)
		ids = append(ids, r.ID)
	}
	return bullets, ids
}
