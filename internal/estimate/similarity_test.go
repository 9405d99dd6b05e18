package estimate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/analisi-ticket/backend/internal/dataset"
	"github.com/analisi-ticket/backend/internal/models"
)

func TestTextSimilarity(t *testing.T) {
	if got := TextSimilarity("errore database", "errore database"); got != 1 {
		t.Fatalf("identical texts: got %v", got)
	}
	if got := TextSimilarity("", "errore"); got != 0 {
		t.Fatalf("empty side: got %v", got)
	}
	ab := TextSimilarity("errore rete lenta", "rete lenta stamattina")
	ba := TextSimilarity("rete lenta stamattina", "errore rete lenta")
	if ab != ba {
		t.Fatalf("not symmetric: %v vs %v", ab, ba)
	}
	// {rete, lenta} shared, union of 4 distinct words.
	if ab != 0.5 {
		t.Fatalf("expected 0.5, got %v", ab)
	}
	// Punctuation must not split or pollute tokens.
	if got := TextSimilarity("errore, database!", "errore database"); got != 1 {
		t.Fatalf("punctuation handling: got %v", got)
	}
}

func TestTicketSimilarityDenominator(t *testing.T) {
	// Only subjects comparable: score is the bare subject Jaccard, not
	// diluted by the missing signals.
	a := models.Ticket{Subject: "errore database", Type: "unknown"}
	b := models.Ticket{Subject: "errore database", Type: "unknown"}
	if got := TicketSimilarity(a, b); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}

	// Type joins the denominator only when known on both sides.
	a.Type = "bug"
	b.Type = "bug"
	if got := TicketSimilarity(a, b); got != 1 {
		t.Fatalf("matching known types must keep 1, got %v", got)
	}
	b.Type = "assistenza"
	got := TicketSimilarity(a, b)
	// subject 0.4 out of weight 0.6.
	want := 0.4 / 0.6
	if got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if got := TicketSimilarity(models.Ticket{}, models.Ticket{}); got != 0 {
		t.Fatalf("nothing comparable must score 0, got %v", got)
	}
}

func TestFindSimilarThresholdStrict(t *testing.T) {
	target := models.Ticket{Subject: "a b c d e f g"}
	records := []map[string]any{
		// Jaccard 3/10 = 0.30 exactly: excluded.
		{"tid": "T-EDGE", "obj": "a b c h i j"},
		// Jaccard 4/9: included.
		{"tid": "T-IN", "obj": "a b c d h i"},
	}

	candidates := FindSimilar(target, records)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Ticket.ID != "T-IN" {
		t.Fatalf("wrong candidate %q", candidates[0].Ticket.ID)
	}
}

func TestFindSimilarTopTenDescending(t *testing.T) {
	target := models.Ticket{Subject: "errore database gestionale"}
	records := make([]map[string]any, 0, 15)
	for i := 0; i < 15; i++ {
		records = append(records, map[string]any{"tid": "T", "obj": "errore database gestionale"})
	}
	records = append(records, map[string]any{"tid": "T-PARTIAL", "obj": "errore database"})

	candidates := FindSimilar(target, records)
	if len(candidates) != 10 {
		t.Fatalf("expected 10 candidates, got %d", len(candidates))
	}
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Score > candidates[i-1].Score {
			t.Fatalf("candidates not sorted descending at %d", i)
		}
	}
}

func TestHistoricalDurationFromDates(t *testing.T) {
	ticket := models.Ticket{
		OpenDate:  "2024-01-01 09:00:00",
		CloseDate: "2024-01-01 12:00:00",
	}
	if got := HistoricalDuration(ticket); got != 180 {
		t.Fatalf("expected 180, got %d", got)
	}

	// Day spans count as 8-hour workdays, clamped to one of them.
	ticket.CloseDate = "2024-01-05 09:00:00"
	if got := HistoricalDuration(ticket); got != 480 {
		t.Fatalf("expected clamp at 480, got %d", got)
	}

	ticket.CloseDate = ticket.OpenDate
	if got := HistoricalDuration(ticket); got != 15 {
		t.Fatalf("zero span must clamp up to 15, got %d", got)
	}
}

func TestHistoricalDurationFromCounts(t *testing.T) {
	ticket := models.Ticket{
		OpenDate: "data ignota",
		Messages: make([]models.Message, 3),
		Updates:  make([]models.Update, 2),
	}
	// 30 + 3*8 + 2*5.
	if got := HistoricalDuration(ticket); got != 64 {
		t.Fatalf("expected 64, got %d", got)
	}
}

func TestDatasetEstimatorWeightedAverage(t *testing.T) {
	body := `{"tid":"H-1","obj":"errore database gestionale","software_description":"il database non risponde","open_date":"2024-01-01 09:00:00","close_date":"2024-01-01 11:00:00"}
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	d := &DatasetEstimator{
		Loader:    &dataset.Loader{Client: srv.Client(), TTL: time.Minute, Logger: zerolog.Nop()},
		SourceURL: srv.URL,
		Logger:    zerolog.Nop(),
	}
	target := models.Ticket{
		ID:          "T-1",
		Subject:     "errore database gestionale",
		Description: "il database non risponde",
	}

	est, err := d.Estimate(context.Background(), target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Method != MethodDataset {
		t.Fatalf("expected dataset method, got %q", est.Method)
	}
	if est.PredictedMinutes != 120 {
		t.Fatalf("expected 120 minutes, got %d", est.PredictedMinutes)
	}
	// Perfect similarity: 1.0 + 0.10 bonus capped at 0.95.
	if est.Confidence == nil || *est.Confidence != 0.95 {
		t.Fatalf("expected capped confidence 0.95, got %v", est.Confidence)
	}
	if est.Diagnostics["similar_tickets_count"] != 1 {
		t.Fatalf("unexpected diagnostics %v", est.Diagnostics)
	}
}

func TestDatasetEstimatorFallbackOnUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	d := &DatasetEstimator{
		Loader:    &dataset.Loader{TTL: time.Minute, Logger: zerolog.Nop()},
		SourceURL: srv.URL,
		Logger:    zerolog.Nop(),
	}

	est, err := d.Estimate(context.Background(), models.Ticket{ID: "T-1", Subject: "errore"})
	if err != nil {
		t.Fatalf("fallback must not fail: %v", err)
	}
	if est.Method != MethodHeuristic {
		t.Fatalf("expected heuristic fallback, got %q", est.Method)
	}
	if est.Diagnostics["fallback_reason"] != "dataset_unavailable" {
		t.Fatalf("unexpected diagnostics %v", est.Diagnostics)
	}
}

func TestDatasetEstimatorFallbackOnNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tid":"H-1","obj":"tutt altro argomento"}` + "\n"))
	}))
	defer srv.Close()

	d := &DatasetEstimator{
		Loader:    &dataset.Loader{Client: srv.Client(), TTL: time.Minute, Logger: zerolog.Nop()},
		SourceURL: srv.URL,
		Logger:    zerolog.Nop(),
	}

	est, err := d.Estimate(context.Background(), models.Ticket{ID: "T-1", Subject: "errore database"})
	if err != nil {
		t.Fatalf("fallback must not fail: %v", err)
	}
	if est.Diagnostics["fallback_reason"] != "no_similar_tickets" {
		t.Fatalf("unexpected diagnostics %v", est.Diagnostics)
	}
}
