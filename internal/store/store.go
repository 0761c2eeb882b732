// Package store persists contacts and events for the identity engine.
package store

import (
	"context"

	"github.com/sells-group/contact-engine/internal/model"
)

// ContactStore defines the persistence operations the engine depends on.
// PersistContact must be atomic per contact: the contact write and the event
// relink succeed together or not at all.
type ContactStore interface {
	// Contacts
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	FindCandidates(ctx context.Context, rec model.NormalizedRecord) ([]model.Contact, error)
	ListContactIDs(ctx context.Context) ([]string, error)
	// PersistContact inserts (isNew) or updates the contact and relinks
	// events from (platform, sourceContactID) to it in one transaction.
	// Returns the number of events relinked.
	PersistContact(ctx context.Context, c *model.Contact, isNew bool, platform, sourceContactID string) (int64, error)

	// Events
	UpsertEvent(ctx context.Context, e *model.Event) error
	EventsForContact(ctx context.Context, contactID string) ([]model.Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// nameSearchKeys derives the prefix keys used for fuzzy-name candidate
// lookup: the full name key and the final token (surname), so nickname
// variants on the given name still surface candidates.
func nameSearchKeys(rec model.NormalizedRecord) (prefix, lastToken string) {
	prefix = rec.NameKey
	if prefix == "" {
		return "", ""
	}
	if i := lastSpace(prefix); i >= 0 {
		lastToken = prefix[i+1:]
	} else {
		lastToken = prefix
	}
	return prefix, lastToken
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return i
		}
	}
	return -1
}
