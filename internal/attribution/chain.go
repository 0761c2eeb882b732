// Package attribution orders a contact's cross-platform touchpoints into a
// causal narrative ending at each monetary outcome.
package attribution

import (
	"sort"
	"time"

	"github.com/sells-group/contact-engine/internal/model"
)

// Model tags how credit is assigned across a chain's touchpoints.
type Model string

// Attribution models.
const (
	// ModelLastTouch assigns credit to the most recent meeting before the deal.
	ModelLastTouch Model = "last-touch"
	// ModelMultiTouch distributes credit across the full touchpoint history.
	// The chain exposes the ordered evidence so callers can apply any
	// weighting scheme; no per-touch percentages are computed here.
	ModelMultiTouch Model = "multi-touch"
)

// Chain is the ordered evidence of touchpoints preceding one deal. Derived
// data: recomputed on demand, identified only by (DealID, ComputedAt).
type Chain struct {
	ContactID string      `json:"contact_id"`
	DealID    string      `json:"deal_id"`
	Deal      model.Event `json:"deal"`
	Model     Model       `json:"model"`

	// Evidence holds every non-deal event at or before the deal timestamp,
	// ascending. Empty evidence is itself a reportable outcome.
	Evidence []model.Event `json:"evidence"`

	LastMeeting  *model.Event `json:"last_meeting,omitempty"`
	LastForm     *model.Event `json:"last_form,omitempty"`
	LastActivity *model.Event `json:"last_activity,omitempty"`

	// DaysToConversion is whole days from the last meeting to the deal,
	// present only under the last-touch model.
	DaysToConversion *int `json:"days_to_conversion,omitempty"`

	// TouchesByPlatform tallies evidence events per source platform.
	TouchesByPlatform map[string]int `json:"touches_by_platform"`

	ComputedAt time.Time `json:"computed_at"`
}

// BuildChains produces one independent chain per deal event belonging to the
// contact. A deal with zero prior touchpoints still yields a chain; "no
// attributable touchpoint" is a reportable outcome, not a skip.
func BuildChains(contactID string, events []model.Event) []Chain {
	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	now := time.Now().UTC()
	var chains []Chain
	for _, ev := range sorted {
		if ev.Type != model.EventDeal {
			continue
		}
		chains = append(chains, buildChain(contactID, ev, sorted, now))
	}
	return chains
}

func buildChain(contactID string, deal model.Event, sorted []model.Event, now time.Time) Chain {
	chain := Chain{
		ContactID:         contactID,
		DealID:            deal.ID,
		Deal:              deal,
		Model:             ModelMultiTouch,
		TouchesByPlatform: make(map[string]int),
		ComputedAt:        now,
	}

	for _, ev := range sorted {
		if ev.Type == model.EventDeal || ev.Timestamp.After(deal.Timestamp) {
			continue
		}
		chain.Evidence = append(chain.Evidence, ev)
		chain.TouchesByPlatform[ev.SourcePlatform]++

		prior := chain.Evidence[len(chain.Evidence)-1]
		switch ev.Type {
		case model.EventMeeting:
			chain.LastMeeting = &prior
		case model.EventFormSubmission:
			chain.LastForm = &prior
		case model.EventActivity:
			chain.LastActivity = &prior
		}
	}

	// A preceding meeting makes it the primary attributed touchpoint.
	if chain.LastMeeting != nil {
		chain.Model = ModelLastTouch
		days := int(deal.Timestamp.Sub(chain.LastMeeting.Timestamp).Hours() / 24)
		chain.DaysToConversion = &days
	}

	return chain
}
