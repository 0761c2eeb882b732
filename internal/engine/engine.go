// Package engine orchestrates ingestion and attribution: normalize, resolve,
// merge-or-create, persist, and per-deal chain building.
package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-engine/internal/attribution"
	"github.com/sells-group/contact-engine/internal/merge"
	"github.com/sells-group/contact-engine/internal/model"
	"github.com/sells-group/contact-engine/internal/normalize"
	"github.com/sells-group/contact-engine/internal/resilience"
	"github.com/sells-group/contact-engine/internal/resolver"
	"github.com/sells-group/contact-engine/internal/store"
)

// Engine ties the resolution pipeline together over a ContactStore.
type Engine struct {
	store    store.ContactStore
	resolver *resolver.Resolver
	merger   *merge.Engine

	// locks serializes the resolve-then-persist read-modify-write, keyed on
	// the record's identity signal while resolving and on the resolved
	// contact id once a match exists, so concurrent ingests of the same
	// person can neither duplicate it nor drop each other's merged fields.
	locks *keyedMutex

	retry       resilience.RetryConfig
	concurrency int
}

// Options tunes engine behavior.
type Options struct {
	// BatchConcurrency bounds the worker pool for bulk operations. The
	// limit protects the backing store; it is never unbounded.
	BatchConcurrency int
	// Retry governs transient-failure retries on candidate lookups during
	// batch processing.
	Retry resilience.RetryConfig
}

// New creates an Engine.
func New(st store.ContactStore, res *resolver.Resolver, merger *merge.Engine, opts Options) *Engine {
	concurrency := opts.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Engine{
		store:       st,
		resolver:    res,
		merger:      merger,
		locks:       newKeyedMutex(),
		retry:       opts.Retry,
		concurrency: concurrency,
	}
}

// IngestResult is the outcome of ingesting one raw record.
type IngestResult struct {
	Contact        *model.Contact          `json:"contact"`
	Created        bool                    `json:"created"`
	Confidence     model.Confidence        `json:"confidence"`
	Reason         string                  `json:"reason"`
	NeedsReview    bool                    `json:"needs_review"`
	Warnings       []merge.ConflictWarning `json:"warnings,omitempty"`
	EventsRelinked int64                   `json:"events_relinked"`
}

// Ingest processes one raw record end to end: normalize, resolve against the
// existing population, then merge into the matched contact or create a new
// one. LOW-confidence matches create a new contact flagged for review rather
// than risking a false merge.
func (e *Engine) Ingest(ctx context.Context, raw model.RawRecord) (*IngestResult, error) {
	rec, err := normalize.Record(raw)
	if err != nil {
		return nil, err
	}

	// The resolution read and the merge write must be serialized per resolved
	// contact. The record's identity key only covers same-signal ingests: two
	// records reaching one person through different signals (email vs phone)
	// carry different keys. So once resolution lands on an existing contact,
	// the lock is re-taken on that contact's id and resolution repeated under
	// it, making a concurrent cross-signal merge visible instead of overwritten.
	lockKey := "record:" + rec.IdentityKey()
	unlock := e.locks.Lock(lockKey)
	defer func() { unlock() }()

	match, err := e.resolveRecord(ctx, rec)
	if err != nil {
		return nil, err
	}
	for match.Confidence.Mergeable() {
		contactKey := "contact:" + match.Contact.ID
		if contactKey == lockKey {
			break
		}
		unlock()
		lockKey = contactKey
		unlock = e.locks.Lock(lockKey)
		if match, err = e.resolveRecord(ctx, rec); err != nil {
			return nil, err
		}
	}

	log := zap.L().With(
		zap.String("component", "engine"),
		zap.String("platform", rec.SourcePlatform),
		zap.String("confidence", string(match.Confidence)),
	)

	if match.Confidence.Mergeable() {
		merged, warnings, err := e.merger.Merge(*match.Contact, rec, match.Confidence)
		if err != nil {
			return nil, err
		}
		relinked, err := e.store.PersistContact(ctx, &merged, false, rec.SourcePlatform, rec.SourceContactID)
		if err != nil {
			return nil, eris.Wrapf(err, "engine: persist merged contact %s", merged.ID)
		}
		log.Info("record merged into existing contact",
			zap.String("contact_id", merged.ID),
			zap.Int64("events_relinked", relinked),
			zap.Int("conflicts", len(warnings)))
		return &IngestResult{
			Contact:        &merged,
			Confidence:     match.Confidence,
			Reason:         match.Reason,
			Warnings:       warnings,
			EventsRelinked: relinked,
		}, nil
	}

	// NONE and LOW both create a new contact; LOW additionally surfaces the
	// ambiguity for manual review instead of auto-merging.
	contact := newContact(rec)
	relinked, err := e.store.PersistContact(ctx, contact, true, rec.SourcePlatform, rec.SourceContactID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: create contact")
	}
	needsReview := match.Confidence == model.ConfidenceLow
	if needsReview {
		log.Warn("ambiguous match, created new contact for review",
			zap.String("contact_id", contact.ID),
			zap.String("reason", match.Reason))
	} else {
		log.Info("created new contact", zap.String("contact_id", contact.ID))
	}
	return &IngestResult{
		Contact:        contact,
		Created:        true,
		Confidence:     match.Confidence,
		Reason:         match.Reason,
		NeedsReview:    needsReview,
		EventsRelinked: relinked,
	}, nil
}

// resolveRecord runs resolution with the engine's transient-failure retry.
func (e *Engine) resolveRecord(ctx context.Context, rec model.NormalizedRecord) (model.MatchResult, error) {
	return resilience.DoVal(ctx, e.retry, func(ctx context.Context) (model.MatchResult, error) {
		return e.resolver.Resolve(ctx, rec)
	})
}

// Resolve runs normalization and resolution without persisting anything.
func (e *Engine) Resolve(ctx context.Context, raw model.RawRecord) (model.MatchResult, error) {
	rec, err := normalize.Record(raw)
	if err != nil {
		return model.MatchResult{}, err
	}
	return e.resolver.Resolve(ctx, rec)
}

// RecordEvent stores a touchpoint idempotently on (platform, source id).
func (e *Engine) RecordEvent(ctx context.Context, ev model.Event) error {
	if ev.SourcePlatform == "" || ev.SourceID == "" {
		return eris.New("engine: event requires source_platform and source_id")
	}
	return e.store.UpsertEvent(ctx, &ev)
}

// AttributeContact builds attribution chains for one contact from its full
// cross-platform event history.
func (e *Engine) AttributeContact(ctx context.Context, contactID string) ([]attribution.Chain, error) {
	events, err := e.store.EventsForContact(ctx, contactID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: events for contact %s", contactID)
	}
	return attribution.BuildChains(contactID, events), nil
}

func newContact(rec model.NormalizedRecord) *model.Contact {
	c := &model.Contact{
		Name:          rec.Name,
		Email:         rec.Email,
		Phone:         rec.Phone,
		PhoneRaw:      rec.PhoneRaw,
		Company:       rec.Company,
		Title:         rec.Title,
		AssignedOwner: rec.OwnerID,
		CreatedAt:     rec.ObservedAt,
	}
	if rec.Note != "" {
		c.Notes = merge.NoteEntry(rec)
	}
	if !rec.ObservedAt.IsZero() {
		c.LastActivityDate = rec.ObservedAt
	}
	c.AddSource(rec.SourcePlatform)
	return c
}
