package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contact-engine/internal/attribution"
	"github.com/sells-group/contact-engine/internal/model"
)

// BatchError records one failed item in a bulk operation.
type BatchError struct {
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

// BatchSummary aggregates the outcome of a bulk ingest. All mutation goes
// through the mutex; workers never share unguarded accumulators.
type BatchSummary struct {
	mu sync.Mutex

	Processed   int          `json:"processed"`
	Created     int          `json:"created"`
	Merged      int          `json:"merged"`
	NeedsReview int          `json:"needs_review"`
	Errors      []BatchError `json:"errors,omitempty"`
}

func (s *BatchSummary) record(res *IngestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed++
	if res.Created {
		s.Created++
	} else {
		s.Merged++
	}
	if res.NeedsReview {
		s.NeedsReview++
	}
}

func (s *BatchSummary) fail(ref string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed++
	s.Errors = append(s.Errors, BatchError{Ref: ref, Message: err.Error()})
}

// IngestBatch processes records concurrently through a bounded worker pool.
// Item failures are isolated: an error increments the summary's error list
// and the batch continues. Only context cancellation stops the batch early,
// and a cancelled batch leaves no partially-applied merge (each contact's
// persist is atomic).
func (e *Engine) IngestBatch(ctx context.Context, records []model.RawRecord) *BatchSummary {
	summary := &BatchSummary{}
	if len(records) == 0 {
		return summary
	}

	zap.L().Info("ingesting batch",
		zap.Int("records", len(records)),
		zap.Int("concurrency", e.concurrency))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, raw := range records {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := e.Ingest(gctx, raw)
			if err != nil {
				summary.fail(recordRef(i, raw), err)
				zap.L().Error("batch item failed",
					zap.String("ref", recordRef(i, raw)),
					zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			summary.record(res)
			return nil
		})
	}

	g.Wait() //nolint:errcheck // workers never return errors

	zap.L().Info("batch complete",
		zap.Int("processed", summary.Processed),
		zap.Int("created", summary.Created),
		zap.Int("merged", summary.Merged),
		zap.Int("needs_review", summary.NeedsReview),
		zap.Int("errors", len(summary.Errors)))
	return summary
}

// ContactChains pairs a contact with its computed attribution chains.
type ContactChains struct {
	ContactID string              `json:"contact_id"`
	Chains    []attribution.Chain `json:"chains"`
}

// AttributionSummary aggregates a bulk attribution run.
type AttributionSummary struct {
	mu sync.Mutex

	Contacts int             `json:"contacts"`
	Chains   int             `json:"chains"`
	Results  []ContactChains `json:"results"`
	Errors   []BatchError    `json:"errors,omitempty"`
}

func (s *AttributionSummary) record(id string, chains []attribution.Chain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Contacts++
	s.Chains += len(chains)
	if len(chains) > 0 {
		s.Results = append(s.Results, ContactChains{ContactID: id, Chains: chains})
	}
}

func (s *AttributionSummary) fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Contacts++
	s.Errors = append(s.Errors, BatchError{Ref: id, Message: err.Error()})
}

// AttributeAll builds attribution chains for every contact through the same
// bounded pool and accumulator discipline as IngestBatch.
func (e *Engine) AttributeAll(ctx context.Context) (*AttributionSummary, error) {
	ids, err := e.store.ListContactIDs(ctx)
	if err != nil {
		return nil, err
	}

	summary := &AttributionSummary{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			chains, err := e.AttributeContact(gctx, id)
			if err != nil {
				summary.fail(id, err)
				return nil
			}
			summary.record(id, chains)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	zap.L().Info("attribution complete",
		zap.Int("contacts", summary.Contacts),
		zap.Int("chains", summary.Chains),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

func recordRef(i int, raw model.RawRecord) string {
	switch {
	case raw.Email != "":
		return raw.Email
	case raw.Name != "":
		return raw.Name
	default:
		return fmt.Sprintf("record[%d]", i)
	}
}
