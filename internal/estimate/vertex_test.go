package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/analisi-ticket/backend/internal/models"
)

func TestExtractMinutes(t *testing.T) {
	cases := []struct {
		response string
		minutes  int
		how      string
	}{
		{"45", 45, "integer"},
		{"Il tempo stimato è di 45 minuti", 45, "integer"},
		{"circa 120, forse 150", 120, "integer"},
		{"molto complesso", 120, "keyword"},
		{"sembra difficile", 120, "keyword"},
		{"caso semplice", 30, "keyword"},
		{"molto facile", 30, "keyword"},
		{"boh", 60, "default"},
		{"", 60, "default"},
	}
	for _, tc := range cases {
		minutes, how := ExtractMinutes(tc.response)
		if minutes != tc.minutes || how != tc.how {
			t.Fatalf("ExtractMinutes(%q) = %d/%s, want %d/%s", tc.response, minutes, how, tc.minutes, tc.how)
		}
	}
}

func TestVertexRequiresProject(t *testing.T) {
	v := &VertexEstimator{Model: "gemini-2.0-flash-lite-001"}
	_, err := v.Estimate(context.Background(), models.Ticket{ID: "T-1", Subject: "x"})
	var estErr *EstimationError
	if !errors.As(err, &estErr) {
		t.Fatalf("expected EstimationError, got %v", err)
	}
}

func TestVertexGeminiRouting(t *testing.T) {
	var gotPath string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "90"}}}},
			},
		})
	}))
	defer srv.Close()

	v := &VertexEstimator{
		BaseURL:   srv.URL,
		ProjectID: "proj",
		Location:  "europe-west8",
		Model:     "gemini-2.0-flash-lite-001",
	}
	est, err := v.Estimate(context.Background(), models.Ticket{ID: "T-1", Subject: "server down"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(gotPath, ":generateContent") {
		t.Fatalf("expected generateContent route, got %q", gotPath)
	}
	if est.PredictedMinutes != 90 {
		t.Fatalf("expected 90 minutes, got %d", est.PredictedMinutes)
	}
	if est.Confidence != nil {
		t.Fatalf("text responses carry no confidence, got %v", est.Confidence)
	}
	if est.Quality != "unknown" {
		t.Fatalf("expected unknown quality, got %q", est.Quality)
	}

	cfg, ok := gotPayload["generationConfig"].(map[string]any)
	if !ok {
		t.Fatal("missing generationConfig")
	}
	if cfg["maxOutputTokens"].(float64) != 50 || cfg["temperature"].(float64) != 0.2 {
		t.Fatalf("unexpected generation config %v", cfg)
	}
}

func TestVertexLegacyRouting(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]any{{"content": "circa 40 minuti"}},
		})
	}))
	defer srv.Close()

	v := &VertexEstimator{BaseURL: srv.URL, ProjectID: "proj", Location: "l", Model: "text-bison"}
	est, err := v.Estimate(context.Background(), models.Ticket{ID: "T-1", Subject: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(gotPath, ":predict") {
		t.Fatalf("expected predict route, got %q", gotPath)
	}
	if est.PredictedMinutes != 40 {
		t.Fatalf("expected 40 minutes, got %d", est.PredictedMinutes)
	}
}

func TestVertexStructuredEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]any{
				{"predicted_minutes": 75.0, "confidence": 0.88},
			},
		})
	}))
	defer srv.Close()

	v := &VertexEstimator{BaseURL: srv.URL, ProjectID: "proj", Location: "l", EndpointID: "123"}
	est, err := v.Estimate(context.Background(), models.Ticket{ID: "T-1", Subject: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.PredictedMinutes != 75 {
		t.Fatalf("expected 75 minutes, got %d", est.PredictedMinutes)
	}
	if est.Confidence == nil || *est.Confidence != 0.88 {
		t.Fatalf("expected remote confidence passthrough, got %v", est.Confidence)
	}
	if est.Quality != "high" {
		t.Fatalf("expected high quality, got %q", est.Quality)
	}
}

func TestVertexHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	v := &VertexEstimator{BaseURL: srv.URL, ProjectID: "proj", Location: "l", Model: "gemini-1.5-flash"}
	_, err := v.Estimate(context.Background(), models.Ticket{ID: "T-1", Subject: "x"})
	var estErr *EstimationError
	if !errors.As(err, &estErr) {
		t.Fatalf("expected EstimationError, got %v", err)
	}
	if !strings.Contains(estErr.Message, "http error") {
		t.Fatalf("unexpected message %q", estErr.Message)
	}
}

func TestVertexClampsModelAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "99999"}}}},
			},
		})
	}))
	defer srv.Close()

	v := &VertexEstimator{BaseURL: srv.URL, ProjectID: "proj", Location: "l", Model: "gemini-1.5-pro"}
	est, err := v.Estimate(context.Background(), models.Ticket{ID: "T-1", Subject: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.PredictedMinutes != MaxModelMinutes {
		t.Fatalf("expected clamp at %d, got %d", MaxModelMinutes, est.PredictedMinutes)
	}
}
