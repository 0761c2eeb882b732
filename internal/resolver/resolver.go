// Package resolver decides contact identity across sources. Identity fields
// are not equally trustworthy, so resolution is a priority-ordered decision
// tree rather than a weighted sum.
package resolver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/contact-engine/internal/model"
	"github.com/sells-group/contact-engine/internal/similarity"
)

// LookupError marks a candidate-pool read failure. It is always propagated;
// defaulting to "no match" here would fabricate duplicate identities.
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("resolver: candidate lookup failed: %v", e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// CandidateStore supplies the existing contact population relevant to a
// record. Implementations must support lookup by normalized email, normalized
// phone, and fuzzy name prefix at minimum.
type CandidateStore interface {
	FindCandidates(ctx context.Context, rec model.NormalizedRecord) ([]model.Contact, error)
}

// Thresholds are the externally configurable resolution cut-offs.
type Thresholds struct {
	// NameAlone is the name score sufficient for a MEDIUM match by itself.
	NameAlone float64
	// NameCorroborated is the name score sufficient when corroborated by
	// phone (HIGH) or company (MEDIUM).
	NameCorroborated float64
	// Company is the company score required to corroborate a name match.
	Company float64
}

// DefaultThresholds returns the standard resolution cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NameAlone:        0.75,
		NameCorroborated: 0.5,
		Company:          0.5,
	}
}

// Resolver finds the best matching existing contact for an incoming record,
// or concludes the record is a new person.
type Resolver struct {
	store  CandidateStore
	scorer *similarity.Scorer
	th     Thresholds
}

// New creates a Resolver.
func New(store CandidateStore, scorer *similarity.Scorer, th Thresholds) *Resolver {
	return &Resolver{store: store, scorer: scorer, th: th}
}

// Resolve runs the decision tree against the candidate pool and returns a
// MatchResult with a discrete confidence tier. An ambiguous multi-hit on the
// strong passes degrades to LOW with the most-recently-active candidate;
// LOW is a needs-review signal, never an auto-merge.
func (r *Resolver) Resolve(ctx context.Context, rec model.NormalizedRecord) (model.MatchResult, error) {
	candidates, err := r.store.FindCandidates(ctx, rec)
	if err != nil {
		return model.MatchResult{}, &LookupError{Err: err}
	}

	log := zap.L().With(zap.String("component", "resolver"), zap.String("platform", rec.SourcePlatform))

	// Pass 1: exact email.
	if hits := r.filter(candidates, func(c *model.Contact) bool {
		return r.scorer.EmailExact(rec.Email, c.Email)
	}); len(hits) > 0 {
		if len(hits) == 1 {
			return match(hits[0], model.ConfidenceExact, "email exact match"), nil
		}
		return ambiguous(hits, "email", log), nil
	}

	// Pass 2: email alias equivalence (allow-listed domains only).
	if hits := r.filter(candidates, func(c *model.Contact) bool {
		return !r.scorer.EmailExact(rec.Email, c.Email) &&
			r.scorer.EmailAliasEquivalent(rec.Email, c.Email)
	}); len(hits) > 0 {
		if len(hits) == 1 {
			return match(hits[0], model.ConfidenceHigh, "email alias equivalent"), nil
		}
		return ambiguous(hits, "email alias", log), nil
	}

	// Pass 3: exact phone, corroborated by name (or a nameless contact).
	if phoneHits := r.filter(candidates, func(c *model.Contact) bool {
		return r.scorer.PhoneExact(rec.Phone, c.Phone)
	}); len(phoneHits) > 1 {
		return ambiguous(phoneHits, "phone", log), nil
	} else if len(phoneHits) == 1 {
		c := phoneHits[0]
		if c.Name == "" || r.scorer.NameFuzzy(rec.Name, c.Name) >= r.th.NameCorroborated {
			return match(c, model.ConfidenceHigh, "phone exact match with name corroboration"), nil
		}
		log.Debug("phone match rejected: no name corroboration",
			zap.String("contact_id", c.ID))
	}

	// Pass 4: fuzzy name among candidates with no conflicting email.
	var best *model.Contact
	var bestScore float64
	for i := range candidates {
		c := &candidates[i]
		if rec.Email != "" && c.Email != "" && rec.Email != c.Email {
			continue
		}
		if score := r.scorer.NameFuzzy(rec.Name, c.Name); score > bestScore {
			best = c
			bestScore = score
		}
	}
	if best != nil {
		if bestScore >= r.th.NameAlone {
			return match(*best, model.ConfidenceMedium,
				fmt.Sprintf("name fuzzy match (%.2f)", bestScore)), nil
		}
		if bestScore >= r.th.NameCorroborated &&
			r.scorer.CompanyFuzzy(rec.Company, best.Company) >= r.th.Company {
			return match(*best, model.ConfidenceMedium,
				fmt.Sprintf("name fuzzy match (%.2f) with company corroboration", bestScore)), nil
		}
	}

	return model.MatchResult{Confidence: model.ConfidenceNone, Reason: "no confident match"}, nil
}

func (r *Resolver) filter(candidates []model.Contact, keep func(*model.Contact) bool) []model.Contact {
	var hits []model.Contact
	for i := range candidates {
		if keep(&candidates[i]) {
			hits = append(hits, candidates[i])
		}
	}
	return hits
}

func match(c model.Contact, conf model.Confidence, reason string) model.MatchResult {
	contact := c
	return model.MatchResult{Contact: &contact, Confidence: conf, Reason: reason}
}

// ambiguous handles a multi-hit on a strong identity pass: the data is
// already duplicated, so the resolver degrades to LOW, picks the most
// recently active candidate, and flags the ambiguity for manual review.
func ambiguous(hits []model.Contact, signal string, log *zap.Logger) model.MatchResult {
	pick := hits[0]
	for _, h := range hits[1:] {
		if h.LastActivityDate.After(pick.LastActivityDate) {
			pick = h
		}
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	log.Warn("ambiguous multi-match, degrading to low confidence",
		zap.String("signal", signal),
		zap.Strings("contact_ids", ids))
	contact := pick
	return model.MatchResult{
		Contact:    &contact,
		Confidence: model.ConfidenceLow,
		Reason:     fmt.Sprintf("ambiguous %s match across %d contacts, needs review", signal, len(hits)),
	}
}
