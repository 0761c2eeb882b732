package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-engine/internal/model"
)

func TestIngestBatch_Empty(t *testing.T) {
	e := newTestEngine(newMemStore())
	summary := e.IngestBatch(context.Background(), nil)
	assert.Zero(t, summary.Processed)
	assert.Empty(t, summary.Errors)
}

func TestIngestBatch_MixedOutcomes(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)
	seedContact(t, st, model.RawRecord{Name: "John Smith", Email: "john@acme.com", SourcePlatform: "close"})

	// One merge, one create, one invalid record.
	records := []model.RawRecord{
		{Name: "John Smith", Email: "john@acme.com", SourcePlatform: "calendly"},
		{Name: "Mary Jones", Email: "mary@northwind.com", SourcePlatform: "typeform"},
		{Company: "No Identity Inc", SourcePlatform: "typeform"},
	}

	summary := e.IngestBatch(context.Background(), records)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Merged)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "record[2]", summary.Errors[0].Ref)
	assert.Len(t, st.contacts, 2)
}

func TestIngestBatch_FailureDoesNotAbortBatch(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)

	records := make([]model.RawRecord, 0, 10)
	for i := 0; i < 5; i++ {
		records = append(records, model.RawRecord{Company: "bad", SourcePlatform: "close"})
		records = append(records, model.RawRecord{Email: "john@acme.com", SourcePlatform: "close"})
	}

	summary := e.IngestBatch(context.Background(), records)
	assert.Equal(t, 10, summary.Processed)
	assert.Len(t, summary.Errors, 5)
	assert.Len(t, st.contacts, 1, "valid duplicates collapse into one contact")
}

func TestIngestBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(newMemStore())
	records := []model.RawRecord{
		{Name: "John Smith", SourcePlatform: "close"},
	}

	summary := e.IngestBatch(ctx, records)
	// Workers observe the cancelled context and skip; nothing is processed as
	// a success.
	assert.Zero(t, summary.Created)
}

func TestRecordRef(t *testing.T) {
	assert.Equal(t, "a@b.com", recordRef(0, model.RawRecord{Email: "a@b.com", Name: "A"}))
	assert.Equal(t, "John", recordRef(0, model.RawRecord{Name: "John"}))
	assert.Equal(t, "record[3]", recordRef(3, model.RawRecord{}))
}

func TestAttributeAll(t *testing.T) {
	st := newMemStore()
	e := newTestEngine(st)

	c1 := seedContact(t, st, model.RawRecord{Name: "John Smith", SourcePlatform: "close"})
	seedContact(t, st, model.RawRecord{Name: "Mary Jones", SourcePlatform: "typeform"})

	require.NoError(t, e.RecordEvent(context.Background(), model.Event{
		ContactID: c1.ID, Type: model.EventDeal, Timestamp: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		SourcePlatform: "close", SourceID: "d1",
	}))

	summary, err := e.AttributeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Contacts)
	assert.Equal(t, 1, summary.Chains)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, c1.ID, summary.Results[0].ContactID)
}
