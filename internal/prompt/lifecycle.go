package prompt

import (
	"database/sql"
	"fmt"

	"promptloop/internal/logging"
	"promptloop/internal/store"
)

// Lifecycle is the storage contract exposed to the external optimization
// loop: create a candidate version, promote it, or remember why it was
// rejected. Existing rows are never mutated or deleted.
type Lifecycle struct {
	store *store.LocalStore
}

// NewLifecycle creates a lifecycle manager over the given store.
func NewLifecycle(s *store.LocalStore) *Lifecycle {
	return &Lifecycle{store: s}
}

// CreateSectionVersion inserts the next version for a key, inactive. The
// version is max(existing)+1 and the orderIndex is inherited from the latest
// existing row (0 for a brand-new key).
func (l *Lifecycle) CreateSectionVersion(key, content, source, changelog string, parentVersion int) (*store.PromptSection, error) {
	if key == "" {
		return nil, fmt.Errorf("section key is required")
	}
	if content == "" {
		return nil, fmt.Errorf("section content is required")
	}

	latest, err := l.store.LatestSection(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create section version: %w", err)
	}

	version := 1
	orderIndex := 0
	if latest != nil {
		version = latest.Version + 1
		orderIndex = latest.OrderIndex
	}

	sec := &store.PromptSection{
		SectionKey: key,
		Version:    version,
		Content:    content,
		OrderIndex: orderIndex,
		Source:     source,
		Changelog:  changelog,
	}
	if parentVersion > 0 {
		sec.ParentVersion = sql.NullInt64{Int64: int64(parentVersion), Valid: true}
	}

	if err := l.store.InsertSection(sec); err != nil {
		return nil, fmt.Errorf("failed to create section version: %w", err)
	}

	logging.Lifecycle("Created section version %s v%d (source=%s)", key, version, source)
	return sec, nil
}

// ActivateSectionVersion promotes a version, deactivating any prior active
// version of the key in the same transaction.
func (l *Lifecycle) ActivateSectionVersion(key string, version int, arenaWinRate float64) error {
	if err := l.store.ActivateSectionVersion(key, version, arenaWinRate); err != nil {
		return fmt.Errorf("failed to activate section version: %w", err)
	}

	logging.Lifecycle("Promoted %s v%d (win_rate=%.3f)", key, version, arenaWinRate)
	return nil
}

// RecordFailedAttempt appends a rejected mutation to the currently active
// version's attempt log, so a later optimization pass does not blindly
// repeat it.
func (l *Lifecycle) RecordFailedAttempt(key, changelog, failReason string) error {
	if err := l.store.AppendFailedAttempt(key, changelog, failReason); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	logging.Lifecycle("Recorded failed attempt for %s: %s", key, failReason)
	return nil
}

// GetSection returns the active row for a key, or nil when none is active.
func (l *Lifecycle) GetSection(key string) (*store.PromptSection, error) {
	return l.store.GetActiveSection(key)
}

// SeedBaseline inserts and activates v1 of every compiled-in section for
// keys that have no rows yet. Idempotent; keys with existing versions are
// left untouched.
func (l *Lifecycle) SeedBaseline() error {
	for _, def := range baselineSections {
		max, err := l.store.MaxSectionVersion(def.Key)
		if err != nil {
			return fmt.Errorf("failed to seed baseline: %w", err)
		}
		if max > 0 {
			continue
		}

		sec := &store.PromptSection{
			SectionKey: def.Key,
			Version:    1,
			Content:    def.Content,
			OrderIndex: def.OrderIndex,
			Source:     "baseline",
			Changelog:  "initial baseline content",
		}
		if err := l.store.InsertSection(sec); err != nil {
			return fmt.Errorf("failed to seed baseline: %w", err)
		}
		if err := l.store.ActivateSectionVersion(def.Key, 1, 0); err != nil {
			return fmt.Errorf("failed to seed baseline: %w", err)
		}

		logging.Lifecycle("Seeded baseline section %s v1", def.Key)
	}

	return nil
}
