// Package merge combines existing and incoming contact field values under a
// deterministic per-field precedence policy. Applying the policy field by
// field avoids the last-write-wins data loss endemic to ad-hoc merge scripts.
package merge

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-engine/internal/model"
)

// Config is the externally configurable merge policy.
type Config struct {
	// AuthoritativeSources maps a source platform to the scalar fields it
	// is authoritative for. An authoritative incoming value overwrites the
	// existing one; otherwise existing non-empty values always win.
	AuthoritativeSources map[string][]string `yaml:"authoritative_sources" mapstructure:"authoritative_sources"`
}

// ConflictWarning is a non-fatal field-level merge conflict: both sides have
// non-empty but different values and neither is authoritative. The engine
// skips the field rather than guess; callers surface these for review.
type ConflictWarning struct {
	Field    string `json:"field"`
	Existing string `json:"existing"`
	Incoming string `json:"incoming"`
}

func (w ConflictWarning) String() string {
	return fmt.Sprintf("merge conflict on %s: existing %q vs incoming %q", w.Field, w.Existing, w.Incoming)
}

// Engine applies the merge policy.
type Engine struct {
	auth map[string]map[string]bool
}

// New creates a merge Engine from policy config.
func New(cfg Config) *Engine {
	auth := make(map[string]map[string]bool, len(cfg.AuthoritativeSources))
	for platform, fields := range cfg.AuthoritativeSources {
		set := make(map[string]bool, len(fields))
		for _, f := range fields {
			set[strings.ToLower(strings.TrimSpace(f))] = true
		}
		auth[strings.ToLower(strings.TrimSpace(platform))] = set
	}
	return &Engine{auth: auth}
}

// Merge combines an existing contact with an incoming normalized record.
// Only EXACT, HIGH, and MEDIUM matches may merge; weaker tiers are refused so
// that low-confidence records never overwrite existing fields. Merge is
// idempotent: applying the same record twice yields no further change. The
// contact id never changes.
func (e *Engine) Merge(existing model.Contact, rec model.NormalizedRecord, conf model.Confidence) (model.Contact, []ConflictWarning, error) {
	if !conf.Mergeable() {
		return model.Contact{}, nil, eris.Errorf("merge: confidence %s does not permit merging", conf)
	}

	out := existing
	out.LeadSources = append([]string(nil), existing.LeadSources...)
	var warnings []ConflictWarning

	// Email is the strongest identity signal: it must never silently change
	// to a different non-empty address.
	switch {
	case out.Email == "":
		out.Email = rec.Email
	case rec.Email != "" && rec.Email != out.Email:
		if e.authoritative(rec.SourcePlatform, "email") {
			out.Email = rec.Email
		} else {
			w := ConflictWarning{Field: "email", Existing: out.Email, Incoming: rec.Email}
			warnings = append(warnings, w)
			zap.L().Warn("merge: skipping conflicting email",
				zap.String("contact_id", out.ID),
				zap.String("existing", w.Existing),
				zap.String("incoming", w.Incoming))
		}
	}

	out.Name = e.scalar(rec.SourcePlatform, "name", out.Name, rec.Name)
	out.Title = e.scalar(rec.SourcePlatform, "title", out.Title, rec.Title)
	out.Company = e.scalar(rec.SourcePlatform, "company", out.Company, rec.Company)
	if phone := e.scalar(rec.SourcePlatform, "phone", out.Phone, rec.Phone); phone != out.Phone {
		out.Phone = phone
		out.PhoneRaw = rec.PhoneRaw
	}

	// assignedOwner: existing wins unless existing is null.
	if out.AssignedOwner == "" {
		out.AssignedOwner = rec.OwnerID
	}

	// leadSources: union, with sourcesCount recomputed from the set.
	out.AddSource(rec.SourcePlatform)

	// notes: append-only with a provenance prefix. The entry is skipped when
	// already present so that re-applying the same record is a no-op.
	if rec.Note != "" {
		entry := NoteEntry(rec)
		if !hasNoteEntry(out.Notes, entry) {
			if out.Notes == "" {
				out.Notes = entry
			} else {
				out.Notes = out.Notes + "\n---\n" + entry
			}
		}
	}

	// createdAt: a contact's birth is its first-ever appearance in any source.
	if !rec.ObservedAt.IsZero() && (out.CreatedAt.IsZero() || rec.ObservedAt.Before(out.CreatedAt)) {
		out.CreatedAt = rec.ObservedAt
	}

	// lastActivityDate: most recent across all sources.
	if rec.ObservedAt.After(out.LastActivityDate) {
		out.LastActivityDate = rec.ObservedAt
	}

	return out, warnings, nil
}

// scalar applies the scalar field policy: existing non-empty wins unless the
// incoming platform is authoritative for the field.
func (e *Engine) scalar(platform, field, existing, incoming string) string {
	if incoming == "" {
		return existing
	}
	if existing == "" || e.authoritative(platform, field) {
		return incoming
	}
	return existing
}

func (e *Engine) authoritative(platform, field string) bool {
	return e.auth[strings.ToLower(platform)][field]
}

// hasNoteEntry reports whether notes already contains entry as a whole entry.
// Entries are compared exactly, never by substring: a short note must still be
// appended when a longer entry from the same platform and day contains it.
func hasNoteEntry(notes, entry string) bool {
	if notes == "" {
		return false
	}
	for _, n := range strings.Split(notes, "\n---\n") {
		if n == entry {
			return true
		}
	}
	return false
}

// NoteEntry formats a note with its provenance/timestamp prefix. Creation and
// merge share this format so re-applying a record never duplicates the entry.
func NoteEntry(rec model.NormalizedRecord) string {
	if rec.ObservedAt.IsZero() {
		return fmt.Sprintf("[%s] %s", rec.SourcePlatform, rec.Note)
	}
	return fmt.Sprintf("[%s %s] %s", rec.SourcePlatform, rec.ObservedAt.UTC().Format("2006-01-02"), rec.Note)
}
