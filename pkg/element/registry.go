package element

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// CollisionPolicy decides what happens when two definitions normalize to
// the same canonical id.
type CollisionPolicy string

const (
	// CollisionOverwrite keeps the last definition seen.
	CollisionOverwrite CollisionPolicy = "overwrite"
	// CollisionReject fails the build with a *CollisionError.
	CollisionReject CollisionPolicy = "reject"
	// CollisionMerge keeps the first definition and appends the guidance
	// text of later ones.
	CollisionMerge CollisionPolicy = "merge"
)

// ParseCollisionPolicy converts a configuration value into a policy.
// An empty string selects CollisionOverwrite.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch CollisionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CollisionOverwrite:
		return CollisionOverwrite, nil
	case CollisionReject:
		return CollisionReject, nil
	case CollisionMerge:
		return CollisionMerge, nil
	default:
		return "", fmt.Errorf("unknown collision policy %q (use overwrite, reject or merge)", s)
	}
}

// ErrNoDefinitions is returned by loaders when a source is empty or holds
// no recognisable element rows.
var ErrNoDefinitions = errors.New("no element definitions found")

// CollisionError reports two rows that normalize to one id under
// CollisionReject.
type CollisionError struct {
	ID     ID
	First  int // zero-based row of the entry already registered
	Second int // zero-based row of the conflicting entry
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("element %s defined twice (rows %d and %d)", e.ID, e.First, e.Second)
}

// Entry is a registered element.
type Entry struct {
	ID              ID
	AskLookFor      string
	CalibratorNotes string
}

// Collision records a duplicate id encountered while building.
type Collision struct {
	ID     ID
	First  int
	Second int
	Policy CollisionPolicy
}

// BuildReport summarizes how the definitions were ingested.
type BuildReport struct {
	Total      int
	Registered int
	Skipped    []int // rows without an id
	Collisions []Collision
}

// Registry maps canonical ids to their entries. It is read-only once built.
type Registry struct {
	entries map[ID]*Entry
	rows    map[ID]int
	report  BuildReport
}

// BuildOption configures BuildRegistry.
type BuildOption func(*buildConfig)

type buildConfig struct {
	policy CollisionPolicy
	logger *slog.Logger
}

// WithCollisionPolicy selects how duplicate ids are handled.
func WithCollisionPolicy(p CollisionPolicy) BuildOption {
	return func(c *buildConfig) { c.policy = p }
}

// WithLogger routes build diagnostics to logger.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(c *buildConfig) { c.logger = logger }
}

// BuildRegistry normalizes every definition and indexes it by canonical id.
// Rows without an id are skipped rather than rejected; upstream exports
// routinely contain partially populated rows.
func BuildRegistry(defs []Definition, opts ...BuildOption) (*Registry, error) {
	cfg := buildConfig{policy: CollisionOverwrite, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := &Registry{
		entries: make(map[ID]*Entry, len(defs)),
		rows:    make(map[ID]int, len(defs)),
		report:  BuildReport{Total: len(defs)},
	}

	for row, def := range defs {
		id, ok := def.CanonicalID()
		if !ok {
			reg.report.Skipped = append(reg.report.Skipped, row)
			cfg.logger.Debug("skipping element row without id", "row", row)
			continue
		}

		entry := &Entry{ID: id, AskLookFor: def.AskLookFor, CalibratorNotes: def.CalibratorNotes}

		existing, dup := reg.entries[id]
		if !dup {
			reg.entries[id] = entry
			reg.rows[id] = row
			continue
		}

		first := reg.rows[id]
		reg.report.Collisions = append(reg.report.Collisions, Collision{
			ID: id, First: first, Second: row, Policy: cfg.policy,
		})
		cfg.logger.Warn("duplicate element id", "id", id, "first_row", first, "row", row, "policy", cfg.policy)

		switch cfg.policy {
		case CollisionReject:
			return nil, &CollisionError{ID: id, First: first, Second: row}
		case CollisionMerge:
			existing.AskLookFor = mergeText(existing.AskLookFor, entry.AskLookFor)
			existing.CalibratorNotes = mergeText(existing.CalibratorNotes, entry.CalibratorNotes)
		default:
			reg.entries[id] = entry
			reg.rows[id] = row
		}
	}

	reg.report.Registered = len(reg.entries)
	return reg, nil
}

func mergeText(existing, addition string) string {
	addition = strings.TrimSpace(addition)
	switch {
	case addition == "":
		return existing
	case strings.TrimSpace(existing) == "":
		return addition
	case strings.Contains(existing, addition):
		return existing
	default:
		return existing + "\n\n" + addition
	}
}

// Get returns the entry registered under id.
func (r *Registry) Get(id ID) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id ID) bool {
	if r == nil {
		return false
	}
	_, ok := r.entries[id]
	return ok
}

// Resolve finds the registry key a slide reference points at: the exact id
// first, then the id with its letter suffix removed, so a slide citing
// "2.1A" lands on "2.1" when no variant entry exists.
func (r *Registry) Resolve(id ID) (ID, bool) {
	if r.Has(id) {
		return id, true
	}
	if base := id.StripSuffix(); base != id && r.Has(base) {
		return base, true
	}
	return "", false
}

// Len returns the number of registered elements. A nil registry is empty.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// IDs returns every registered id in element order.
func (r *Registry) IDs() []ID {
	if r == nil {
		return nil
	}
	ids := make([]ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, Compare)
	return ids
}

// Entries returns every entry in element order.
func (r *Registry) Entries() []Entry {
	ids := r.IDs()
	entries := make([]Entry, len(ids))
	for i, id := range ids {
		entries[i] = *r.entries[id]
	}
	return entries
}

// Report returns the ingestion summary.
func (r *Registry) Report() BuildReport {
	return r.report
}
