package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-engine/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testContact() *model.Contact {
	return &model.Contact{
		Name:         "John Smith",
		Email:        "john@acme.com",
		Phone:        "5551234567",
		PhoneRaw:     "(555) 123-4567",
		Company:      "Acme",
		Title:        "VP Sales",
		LeadSources:  []string{"close"},
		SourcesCount: 1,
		Notes:        "[close 2025-03-01] intro call",
	}
}

func TestSQLite_PersistAndGetContact(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := testContact()
	_, err := st.PersistContact(ctx, c, true, "close", "cl-1")
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)

	got, err := st.GetContact(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "John Smith", got.Name)
	assert.Equal(t, "(555) 123-4567", got.PhoneRaw)
	assert.Equal(t, []string{"close"}, got.LeadSources)
	assert.Equal(t, "[close 2025-03-01] intro call", got.Notes)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSQLite_GetContact_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetContact(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_UpdateContact(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := testContact()
	_, err := st.PersistContact(ctx, c, true, "", "")
	require.NoError(t, err)

	c.Title = "SVP Sales"
	c.LeadSources = []string{"calendly", "close"}
	c.SourcesCount = 2
	_, err = st.PersistContact(ctx, c, false, "", "")
	require.NoError(t, err)

	got, err := st.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "SVP Sales", got.Title)
	assert.Equal(t, []string{"calendly", "close"}, got.LeadSources)
	assert.Equal(t, 2, got.SourcesCount)
}

func TestSQLite_UpdateMissingContactFails(t *testing.T) {
	st := newTestSQLiteStore(t)

	c := testContact()
	c.ID = "ghost"
	_, err := st.PersistContact(context.Background(), c, false, "", "")
	require.Error(t, err)
}

func TestSQLite_FindCandidates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := testContact()
	_, err := st.PersistContact(ctx, c, true, "", "")
	require.NoError(t, err)

	// By email.
	hits, err := st.FindCandidates(ctx, model.NormalizedRecord{Email: "john@acme.com"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// By phone.
	hits, err = st.FindCandidates(ctx, model.NormalizedRecord{Phone: "5551234567"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// By surname even when the given name differs.
	hits, err = st.FindCandidates(ctx, model.NormalizedRecord{NameKey: "bob smith"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// No signal overlap.
	hits, err = st.FindCandidates(ctx, model.NormalizedRecord{
		Email:   "mary@northwind.com",
		NameKey: "mary jones",
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLite_FindCandidates_EmptyRecordMatchesNothing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// A contact with empty email/phone columns must not match an empty record.
	c := &model.Contact{Name: "Nameless Lead", LeadSources: []string{"typeform"}, SourcesCount: 1}
	_, err := st.PersistContact(ctx, c, true, "", "")
	require.NoError(t, err)

	hits, err := st.FindCandidates(ctx, model.NormalizedRecord{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLite_UpsertEvent_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := testContact()
	_, err := st.PersistContact(ctx, c, true, "", "")
	require.NoError(t, err)

	ev := &model.Event{
		ContactID:      c.ID,
		Type:           model.EventDeal,
		Timestamp:      time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		SourcePlatform: "close",
		SourceID:       "deal-1",
		Deal:           &model.DealInfo{Value: 50000, CashCollected: 10000, Status: model.DealWon},
	}
	require.NoError(t, st.UpsertEvent(ctx, ev))

	// Replaying the same external id updates in place.
	ev2 := *ev
	ev2.ID = ""
	ev2.Deal = &model.DealInfo{Value: 50000, CashCollected: 25000, Status: model.DealWon}
	require.NoError(t, st.UpsertEvent(ctx, &ev2))

	events, err := st.EventsForContact(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Deal)
	assert.Equal(t, 25000.0, events[0].Deal.CashCollected)
	assert.Equal(t, model.DealWon, events[0].Deal.Status)
}

func TestSQLite_UpsertEvent_BumpsLastActivity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := testContact()
	_, err := st.PersistContact(ctx, c, true, "", "")
	require.NoError(t, err)

	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertEvent(ctx, &model.Event{
		ContactID:      c.ID,
		Type:           model.EventMeeting,
		Timestamp:      ts,
		SourcePlatform: "calendly",
		SourceID:       "evt-1",
	}))

	got, err := st.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivityDate.Equal(ts), "last activity follows the newest event")

	// An older event must not move last activity backwards.
	require.NoError(t, st.UpsertEvent(ctx, &model.Event{
		ContactID:      c.ID,
		Type:           model.EventActivity,
		Timestamp:      ts.AddDate(0, 0, -5),
		SourcePlatform: "close",
		SourceID:       "act-1",
	}))

	got, err = st.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivityDate.Equal(ts))
}

func TestSQLite_PersistContact_RelinksEvents(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// A provisional contact owns an event keyed to calendly's contact id.
	provisional := &model.Contact{Name: "Unknown", LeadSources: []string{"calendly"}, SourcesCount: 1}
	_, err := st.PersistContact(ctx, provisional, true, "", "")
	require.NoError(t, err)

	require.NoError(t, st.UpsertEvent(ctx, &model.Event{
		ContactID:       provisional.ID,
		Type:            model.EventMeeting,
		Timestamp:       time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		SourcePlatform:  "calendly",
		SourceID:        "evt-9",
		SourceContactID: "cal-42",
	}))

	// The resolved contact claims the platform identity in the same persist.
	resolved := testContact()
	relinked, err := st.PersistContact(ctx, resolved, true, "calendly", "cal-42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), relinked)

	events, err := st.EventsForContact(ctx, resolved.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-9", events[0].SourceID)

	orphaned, err := st.EventsForContact(ctx, provisional.ID)
	require.NoError(t, err)
	assert.Empty(t, orphaned)
}

func TestSQLite_ListContactIDs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ids, err := st.ListContactIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for i := 0; i < 3; i++ {
		c := &model.Contact{Name: "Contact", LeadSources: []string{"close"}, SourcesCount: 1}
		_, err := st.PersistContact(ctx, c, true, "", "")
		require.NoError(t, err)
	}

	ids, err = st.ListContactIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}
