package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/analisi-ticket/backend/internal/estimate"
	"github.com/analisi-ticket/backend/internal/models"
)

type fakeStore struct {
	status    map[string]string
	processed map[string]models.Estimate
	failed    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		status:    map[string]string{},
		processed: map[string]models.Estimate{},
		failed:    map[string]string{},
	}
}

func (f *fakeStore) GetStatus(_ context.Context, ticketID string) (string, error) {
	return f.status[ticketID], nil
}

func (f *fakeStore) UpsertPending(_ context.Context, p models.Prediction) error {
	f.status[p.TicketID] = StatusPending
	return nil
}

func (f *fakeStore) MarkProcessed(_ context.Context, ticketID string, est models.Estimate) error {
	f.status[ticketID] = StatusProcessed
	f.processed[ticketID] = est
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, ticketID string, message string) error {
	f.status[ticketID] = StatusFailed
	f.failed[ticketID] = message
	return nil
}

type fakeEstimator struct {
	calls  int
	failOn map[string]bool
}

func (f *fakeEstimator) ModelVersion() string { return "fake-v1" }

func (f *fakeEstimator) Estimate(_ context.Context, t models.Ticket) (models.Estimate, error) {
	f.calls++
	if f.failOn[t.ID] {
		return models.Estimate{}, &estimate.EstimationError{Method: estimate.MethodRemoteModel, Message: "boom"}
	}
	return models.Estimate{TicketID: t.ID, PredictedMinutes: 60, Method: estimate.MethodRemoteModel}, nil
}

type collectSink struct {
	events []ProgressEvent
}

func (c *collectSink) Emit(e ProgressEvent) {
	c.events = append(c.events, e)
}

func records(ids ...string) []map[string]any {
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]any{"tid": id, "obj": "errore server"})
	}
	return out
}

func TestRunBatchAllSuccessful(t *testing.T) {
	store := newFakeStore()
	est := &fakeEstimator{}
	svc := &BatchService{Store: store, Estimator: est, Logger: zerolog.Nop()}
	sink := &collectSink{}

	items, stats, err := svc.RunBatch(context.Background(), records("T-1", "T-2", "T-3"), sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 3 || stats.Processed != 3 || stats.Successful != 3 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.SuccessRate != 100 {
		t.Fatalf("expected 100%% success rate, got %v", stats.SuccessRate)
	}
	if stats.AverageMinutes != 60 || stats.AverageHours != 1 {
		t.Fatalf("unexpected averages %v / %v", stats.AverageMinutes, stats.AverageHours)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for _, item := range items {
		if item.Status != "success" || item.EstimatedMinutes == nil || *item.EstimatedMinutes != 60 {
			t.Fatalf("unexpected item %+v", item)
		}
	}
	if store.status["T-2"] != StatusProcessed {
		t.Fatalf("expected T-2 processed, got %q", store.status["T-2"])
	}

	last := sink.events[len(sink.events)-1]
	if last.Type != "completed" || last.Statistics == nil {
		t.Fatalf("expected completed event last, got %+v", last)
	}
}

func TestRunBatchSkipsAlreadyProcessed(t *testing.T) {
	store := newFakeStore()
	store.status["T-2"] = StatusProcessed
	est := &fakeEstimator{}
	svc := &BatchService{Store: store, Estimator: est, Logger: zerolog.Nop()}

	items, stats, err := svc.RunBatch(context.Background(), records("T-1", "T-2", "T-3"), &collectSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.calls != 2 {
		t.Fatalf("expected 2 estimator calls, got %d", est.calls)
	}
	if stats.Skipped != 1 || stats.Processed != 2 || stats.Successful != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if items[1].Status != "skipped" {
		t.Fatalf("expected skipped item, got %+v", items[1])
	}
}

func TestRunBatchIdempotentRerun(t *testing.T) {
	store := newFakeStore()
	est := &fakeEstimator{}
	svc := &BatchService{Store: store, Estimator: est, Logger: zerolog.Nop()}

	if _, _, err := svc.RunBatch(context.Background(), records("T-1", "T-2"), &collectSink{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, stats, err := svc.RunBatch(context.Background(), records("T-1", "T-2"), &collectSink{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if est.calls != 2 {
		t.Fatalf("second run must not re-estimate, got %d calls", est.calls)
	}
	if stats.Skipped != 2 || stats.Processed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunBatchPartialFailure(t *testing.T) {
	store := newFakeStore()
	est := &fakeEstimator{failOn: map[string]bool{"T-2": true}}
	svc := &BatchService{Store: store, Estimator: est, Logger: zerolog.Nop()}

	items, stats, err := svc.RunBatch(context.Background(), records("T-1", "T-2", "T-3"), &collectSink{})
	if err != nil {
		t.Fatalf("one bad item must not abort the batch: %v", err)
	}
	if stats.Successful != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if items[1].Status != "error" || items[1].Error == "" {
		t.Fatalf("expected error item, got %+v", items[1])
	}
	if store.status["T-2"] != StatusFailed {
		t.Fatalf("expected T-2 marked failed, got %q", store.status["T-2"])
	}
	if store.failed["T-2"] == "" {
		t.Fatal("expected persisted error message")
	}
	if store.status["T-3"] != StatusProcessed {
		t.Fatal("the batch must continue past a failure")
	}
}

func TestRunBatchCancellation(t *testing.T) {
	store := newFakeStore()
	est := &fakeEstimator{}
	svc := &BatchService{Store: store, Estimator: est, Logger: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, stats, err := svc.RunBatch(ctx, records("T-1", "T-2"), &collectSink{})
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(items) != 0 || stats.Processed != 0 {
		t.Fatalf("cancelled run must not process items, got %+v", stats)
	}
	if est.calls != 0 {
		t.Fatalf("estimator must not run after cancellation, got %d calls", est.calls)
	}
}

func TestRunBatchSynthesizesIDs(t *testing.T) {
	store := newFakeStore()
	svc := &BatchService{Store: store, Estimator: &fakeEstimator{}, Logger: zerolog.Nop()}

	items, _, err := svc.RunBatch(context.Background(), []map[string]any{{"obj": "senza id"}}, &collectSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items[0].TicketID != "TICKET-0" {
		t.Fatalf("expected synthesized id, got %q", items[0].TicketID)
	}
}
