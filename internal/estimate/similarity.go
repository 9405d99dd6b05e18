package estimate

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/analisi-ticket/backend/internal/dataset"
	"github.com/analisi-ticket/backend/internal/models"
	"github.com/analisi-ticket/backend/internal/ticket"
)

const (
	// Candidates must score strictly above the threshold.
	similarityThreshold  = 0.3
	maxCandidates        = 10
	confidenceBonus      = 0.10
	maxDatasetConfidence = 0.95

	workdayMinutes = 8 * 60
)

// DatasetEstimator searches a historical dataset for similar resolved
// tickets and averages their durations weighted by similarity. When the
// dataset is unavailable or nothing clears the threshold it falls back
// to the heuristic strategy instead of failing: the caller always gets
// an estimate.
type DatasetEstimator struct {
	Loader    *dataset.Loader
	SourceURL string
	Fallback  HeuristicEstimator
	Logger    zerolog.Logger
}

func (d *DatasetEstimator) ModelVersion() string { return "dataset-similarity-v1" }

func (d *DatasetEstimator) Estimate(ctx context.Context, t models.Ticket) (models.Estimate, error) {
	records, err := d.Loader.Load(ctx, d.SourceURL)
	if err != nil {
		d.Logger.Warn().Err(err).Str("ticket_id", t.ID).Msg("dataset unavailable, falling back to heuristic")
		return d.fallback(ctx, t, "dataset_unavailable")
	}

	candidates := FindSimilar(t, records)
	if len(candidates) == 0 {
		return d.fallback(ctx, t, "no_similar_tickets")
	}

	var weightedSum, totalWeight, similaritySum float64
	estimatedTimes := make([]int, 0, len(candidates))
	scores := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		duration := HistoricalDuration(c.Ticket)
		weightedSum += float64(duration) * c.Score
		totalWeight += c.Score
		similaritySum += c.Score
		estimatedTimes = append(estimatedTimes, duration)
		scores = append(scores, c.Score)
	}

	minutes := int(math.Round(weightedSum / totalWeight))
	avgSimilarity := similaritySum / float64(len(candidates))
	confidence := math.Min(maxDatasetConfidence, avgSimilarity+confidenceBonus)

	diagnostics := map[string]any{
		"method":                MethodDataset,
		"similar_tickets_count": len(candidates),
		"average_similarity":    avgSimilarity,
		"estimated_times":       estimatedTimes,
		"confidence_scores":     scores,
	}
	return Finalize(t.ID, minutes, &confidence, MethodDataset, diagnostics), nil
}

func (d *DatasetEstimator) fallback(ctx context.Context, t models.Ticket, reason string) (models.Estimate, error) {
	est, err := d.Fallback.Estimate(ctx, t)
	if err != nil {
		return models.Estimate{}, err
	}
	est.Diagnostics["fallback_reason"] = reason
	return est, nil
}

// FindSimilar scores every historical record against the target and
// keeps the top candidates strictly above the threshold, ranked by
// descending similarity.
func FindSimilar(target models.Ticket, records []map[string]any) []models.SimilarCandidate {
	var candidates []models.SimilarCandidate
	for _, record := range records {
		historical := ticket.Normalize(record)
		score := TicketSimilarity(target, historical)
		if score > similarityThreshold {
			candidates = append(candidates, models.SimilarCandidate{Ticket: historical, Score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}

// TicketSimilarity is a weighted sum of field signals: subject Jaccard
// x0.4, exact type match x0.2, description Jaccard x0.3, exact company
// match x0.1. A weight joins the denominator only when its signal is
// computable on both sides, so the score stays normalized to [0,1].
func TicketSimilarity(a, b models.Ticket) float64 {
	var score, weight float64

	subjectA := strings.ToLower(a.Subject)
	subjectB := strings.ToLower(b.Subject)
	if subjectA != "" && subjectB != "" {
		score += TextSimilarity(subjectA, subjectB) * 0.4
		weight += 0.4
	}

	if comparableField(a.Type) && comparableField(b.Type) {
		if a.Type == b.Type {
			score += 0.2
		}
		weight += 0.2
	}

	descA := strings.ToLower(a.Description)
	descB := strings.ToLower(b.Description)
	if descA != "" && descB != "" {
		score += TextSimilarity(descA, descB) * 0.3
		weight += 0.3
	}

	if a.Company != "" && b.Company != "" {
		if a.Company == b.Company {
			score += 0.1
		}
		weight += 0.1
	}

	if weight == 0 {
		return 0
	}
	return score / weight
}

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

// TextSimilarity is Jaccard similarity over punctuation-stripped,
// whitespace-split word sets: |A∩B| / |A∪B|. Zero when either token set
// is empty. Symmetric by construction.
func TextSimilarity(a, b string) float64 {
	wordsA := tokenize(a)
	wordsB := tokenize(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	union := len(wordsA)
	for w := range wordsB {
		if _, ok := wordsA[w]; ok {
			intersection++
		} else {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

func tokenize(text string) map[string]struct{} {
	cleaned := nonWordRe.ReplaceAllString(text, "")
	words := strings.Fields(cleaned)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// HistoricalDuration estimates how long a resolved ticket took.
// Open/close dates win when both parse: day spans convert under an
// 8-hour workday. Otherwise a count-based formula applies. Both paths
// clamp to the model-domain bound; the caller's weighted average is
// clamped again to the derived bound.
func HistoricalDuration(t models.Ticket) int {
	if opened, okOpen := ticket.ParseEventTime(t.OpenDate); okOpen {
		if closed, okClose := ticket.ParseEventTime(t.CloseDate); okClose {
			span := closed.Sub(opened)
			if span < 0 {
				span = -span
			}
			days := int(span / (24 * time.Hour))
			remainder := span % (24 * time.Hour)
			minutes := days*workdayMinutes + int(remainder/time.Minute)
			return ClampMinutes(minutes, MinMinutes, MaxModelMinutes)
		}
	}

	minutes := 30 + len(t.Messages)*8 + len(t.Updates)*5
	return ClampMinutes(minutes, MinMinutes, MaxModelMinutes)
}

func comparableField(v string) bool {
	return v != "" && !strings.EqualFold(v, "unknown")
}
