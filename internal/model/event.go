package model

import "time"

// EventType tags the closed set of touchpoint variants.
type EventType string

// Event variants.
const (
	EventActivity       EventType = "activity"
	EventMeeting        EventType = "meeting"
	EventFormSubmission EventType = "form_submission"
	EventDeal           EventType = "deal"
)

// DealStatus is the lifecycle state of a deal event.
type DealStatus string

// Deal statuses.
const (
	DealOpen    DealStatus = "open"
	DealWon     DealStatus = "won"
	DealLost    DealStatus = "lost"
	DealPending DealStatus = "pending"
)

// Event is a timestamped touchpoint owned by exactly one contact.
// (SourcePlatform, SourceID) uniquely identifies an event; re-ingesting the
// same external id updates in place rather than duplicating.
type Event struct {
	ID        string    `json:"id" db:"id"`
	ContactID string    `json:"contact_id" db:"contact_id"`
	Type      EventType `json:"type" db:"type"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	SourcePlatform string `json:"source_platform" db:"source_platform"`
	SourceID       string `json:"source_id" db:"source_id"`
	// SourceContactID is the external contact id the platform attributed
	// this event to, used to relink events after identity resolution.
	SourceContactID string `json:"source_contact_id,omitempty" db:"source_contact_id"`

	Subject string `json:"subject,omitempty" db:"subject"`

	// Deal payload, set only when Type == EventDeal.
	Deal *DealInfo `json:"deal,omitempty"`
}

// DealInfo is the monetary payload of a deal event.
type DealInfo struct {
	Value         float64    `json:"value" db:"deal_value"`
	CashCollected float64    `json:"cash_collected" db:"deal_cash_collected"`
	Status        DealStatus `json:"status" db:"deal_status"`
}

// IsDeal reports whether the event is a monetary outcome.
func (e *Event) IsDeal() bool {
	return e.Type == EventDeal
}
