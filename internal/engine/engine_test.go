package engine

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/contact-engine/internal/merge"
	"github.com/sells-group/contact-engine/internal/model"
	"github.com/sells-group/contact-engine/internal/normalize"
	"github.com/sells-group/contact-engine/internal/resolver"
	"github.com/sells-group/contact-engine/internal/similarity"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// memStore is an in-memory ContactStore for engine tests.
type memStore struct {
	mu       sync.Mutex
	contacts map[string]model.Contact
	events   map[string]model.Event // keyed on platform/source_id
	nextID   int

	findErrs int    // fail this many FindCandidates calls before succeeding
	findHook func() // invoked at the start of each FindCandidates call
}

func newMemStore() *memStore {
	return &memStore{
		contacts: make(map[string]model.Contact),
		events:   make(map[string]model.Event),
	}
}

func (m *memStore) GetContact(_ context.Context, id string) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memStore) FindCandidates(_ context.Context, rec model.NormalizedRecord) ([]model.Contact, error) {
	if m.findHook != nil {
		m.findHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErrs > 0 {
		m.findErrs--
		return nil, errors.New("connection reset by peer")
	}
	var out []model.Contact
	for _, c := range m.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListContactIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.contacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) PersistContact(_ context.Context, c *model.Contact, isNew bool, platform, sourceContactID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isNew && c.ID == "" {
		m.nextID++
		c.ID = "c" + strconv.Itoa(m.nextID)
	}
	m.contacts[c.ID] = *c

	var relinked int64
	if platform != "" && sourceContactID != "" {
		for k, ev := range m.events {
			if ev.SourcePlatform == platform && ev.SourceContactID == sourceContactID && ev.ContactID != c.ID {
				ev.ContactID = c.ID
				m.events[k] = ev
				relinked++
			}
		}
	}
	return relinked, nil
}

func (m *memStore) UpsertEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.SourcePlatform+"/"+e.SourceID] = *e
	return nil
}

func (m *memStore) EventsForContact(_ context.Context, contactID string) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Event
	for _, ev := range m.events {
		if ev.ContactID == contactID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func newTestEngine(st *memStore) *Engine {
	cfg := similarity.DefaultConfig()
	cfg.AliasDomains = []string{"acme.com"}
	res := resolver.New(st, similarity.NewScorer(cfg), resolver.DefaultThresholds())
	merger := merge.New(merge.Config{})
	return New(st, res, merger, Options{BatchConcurrency: 4})
}

func seedContact(t *testing.T, st *memStore, raw model.RawRecord) *model.Contact {
	t.Helper()
	rec, err := normalize.Record(raw)
	require.NoError(t, err)
	c := newContact(rec)
	_, err = st.PersistContact(context.Background(), c, true, rec.SourcePlatform, rec.SourceContactID)
	require.NoError(t, err)
	return c
}

func TestIngest_CreatesNewContact(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)

	res, err := e.Ingest(context.Background(), model.RawRecord{
		Name:           "John Smith",
		Email:          "john@acme.com",
		SourcePlatform: "close",
		ObservedAt:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, model.ConfidenceNone, res.Confidence)
	assert.False(t, res.NeedsReview)
	assert.Equal(t, []string{"close"}, res.Contact.LeadSources)
	assert.Len(t, st.contacts, 1)
}

func TestIngest_MergesIntoExactMatch(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)
	seedContact(t, st, model.RawRecord{
		Name:           "John Smith",
		Email:          "john@acme.com",
		SourcePlatform: "close",
	})

	res, err := e.Ingest(context.Background(), model.RawRecord{
		Name:           "John Smith",
		Email:          "JOHN@acme.com",
		Phone:          "555-123-4567",
		SourcePlatform: "calendly",
	})
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, model.ConfidenceExact, res.Confidence)
	assert.Equal(t, "5551234567", res.Contact.Phone)
	assert.ElementsMatch(t, []string{"calendly", "close"}, res.Contact.LeadSources)
	assert.Len(t, st.contacts, 1, "merge must not create a second contact")
}

func TestIngest_NicknameMatchAdoptsCompany(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)
	seedContact(t, st, model.RawRecord{Name: "William Carter", SourcePlatform: "close"})

	res, err := e.Ingest(context.Background(), model.RawRecord{
		Name:           "Bill Carter",
		Company:        "Acme",
		SourcePlatform: "typeform",
	})
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, model.ConfidenceMedium, res.Confidence)
	assert.Equal(t, "William Carter", res.Contact.Name, "existing name wins")
	assert.Equal(t, "Acme", res.Contact.Company, "empty company adopted")
	assert.Len(t, st.contacts, 1)
}

func TestIngest_DifferentEmailCreatesNewContact(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)
	existing := seedContact(t, st, model.RawRecord{Email: "a@x.com", SourcePlatform: "close"})

	res, err := e.Ingest(context.Background(), model.RawRecord{
		Email:          "b@x.com",
		SourcePlatform: "typeform",
	})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, model.ConfidenceNone, res.Confidence)
	assert.Len(t, st.contacts, 2)

	untouched, err := st.GetContact(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", untouched.Email)
	assert.Equal(t, []string{"close"}, untouched.LeadSources)
}

func TestIngest_AmbiguousCreatesForReview(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)
	seedContact(t, st, model.RawRecord{Name: "John Smith", Email: "john@acme.com", SourcePlatform: "close"})
	seedContact(t, st, model.RawRecord{Name: "John Q Smith", Email: "john@acme.com", SourcePlatform: "typeform"})

	res, err := e.Ingest(context.Background(), model.RawRecord{
		Email:          "john@acme.com",
		SourcePlatform: "calendly",
	})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.True(t, res.NeedsReview)
	assert.Equal(t, model.ConfidenceLow, res.Confidence)
	assert.Len(t, st.contacts, 3, "ambiguity must never auto-merge")
}

func TestIngest_InvalidRecordRejected(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)

	_, err := e.Ingest(context.Background(), model.RawRecord{
		Company:        "Acme",
		SourcePlatform: "close",
	})
	require.Error(t, err)

	var verr *normalize.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, st.contacts)
}

func TestIngest_RetriesTransientLookupFailure(t *testing.T) {
	st := newMemStore()
	st.findErrs = 2
	e := newTestEngine(st)

	res, err := e.Ingest(context.Background(), model.RawRecord{
		Name:           "John Smith",
		SourcePlatform: "close",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestIngest_RelinksEvents(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)

	// An event arrives before its contact, linked only by the platform's id.
	require.NoError(t, e.RecordEvent(context.Background(), model.Event{
		Type:            model.EventMeeting,
		Timestamp:       time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		SourcePlatform:  "calendly",
		SourceID:        "evt-1",
		SourceContactID: "cal-77",
	}))

	res, err := e.Ingest(context.Background(), model.RawRecord{
		Name:            "John Smith",
		SourcePlatform:  "calendly",
		SourceContactID: "cal-77",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.EventsRelinked)

	events, err := st.EventsForContact(context.Background(), res.Contact.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].SourceID)
}

func TestIngest_ConcurrentSamePersonNoDuplicates(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Ingest(context.Background(), model.RawRecord{
				Name:           "John Smith",
				Email:          "john@acme.com",
				SourcePlatform: "close",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, st.contacts, 1, "identity-keyed locking must serialize same-person ingests")
}

func TestIngest_CrossSignalConcurrentMergeKeepsBothUpdates(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)
	seedContact(t, st, model.RawRecord{
		Name:           "John Smith",
		Email:          "john@acme.com",
		Phone:          "555-123-4567",
		SourcePlatform: "close",
	})

	// Hold the first resolution read of each ingest until both have observed
	// the pre-merge contact, so the two merges are forced to interleave.
	var calls int32
	var rendezvous sync.WaitGroup
	rendezvous.Add(2)
	st.findHook = func() {
		if atomic.AddInt32(&calls, 1) <= 2 {
			rendezvous.Done()
			rendezvous.Wait()
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := e.Ingest(context.Background(), model.RawRecord{
			Email:          "john@acme.com",
			Title:          "CEO",
			SourcePlatform: "close",
		})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := e.Ingest(context.Background(), model.RawRecord{
			Name:           "John Smith",
			Phone:          "(555) 123-4567",
			SourcePlatform: "calendly",
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	require.Len(t, st.contacts, 1)
	var got model.Contact
	for _, c := range st.contacts {
		got = c
	}
	assert.Equal(t, "CEO", got.Title, "email-side merge must survive the phone-side merge")
	assert.ElementsMatch(t, []string{"calendly", "close"}, got.LeadSources)
	assert.Equal(t, 2, got.SourcesCount)
}

func TestRecordEvent_RequiresSourceIdentity(t *testing.T) {
	e := newTestEngine(newMemStore())
	err := e.RecordEvent(context.Background(), model.Event{Type: model.EventMeeting})
	require.Error(t, err)
}

func TestResolve_DryRunPersistsNothing(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)

	match, err := e.Resolve(context.Background(), model.RawRecord{
		Name:           "John Smith",
		SourcePlatform: "close",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ConfidenceNone, match.Confidence)
	assert.Empty(t, st.contacts)
}

func TestAttributeContact(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)
	c := seedContact(t, st, model.RawRecord{Name: "John Smith", SourcePlatform: "close"})

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.RecordEvent(context.Background(), model.Event{
		ContactID: c.ID, Type: model.EventMeeting, Timestamp: base,
		SourcePlatform: "calendly", SourceID: "m1",
	}))
	require.NoError(t, e.RecordEvent(context.Background(), model.Event{
		ContactID: c.ID, Type: model.EventDeal, Timestamp: base.AddDate(0, 0, 3),
		SourcePlatform: "close", SourceID: "d1",
		Deal: &model.DealInfo{Value: 10000, Status: model.DealWon},
	}))

	chains, err := e.AttributeContact(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	require.NotNil(t, chains[0].DaysToConversion)
	assert.Equal(t, 3, *chains[0].DaysToConversion)
}
