package estimate

import (
	"context"
	"math"
	"strings"

	"github.com/analisi-ticket/backend/internal/models"
)

// Fixed per-keyword minute bonuses. Substring match on the lowercased
// subject+description; every matching keyword contributes, they are not
// mutually exclusive. Ordered so the diagnostics list is deterministic.
var complexityFactors = []struct {
	Keyword string
	Minutes int
}{
	{"errore", 15},
	{"installazione", 25},
	{"configurazione", 20},
	{"rete", 30},
	{"database", 35},
	{"server", 40},
	{"sicurezza", 45},
	{"backup", 20},
	{"ripristino", 50},
	{"migrazione", 60},
	{"aggiornamento", 25},
	{"crash", 35},
	{"lento", 20},
	{"non funziona", 25},
	{"problema", 15},
}

const (
	heuristicBaseMinutes     = 30
	heuristicMessageBonusCap = 60
	heuristicConfidence      = 0.65
)

// HeuristicEstimator is the deterministic rule-based strategy: no I/O,
// never fails.
type HeuristicEstimator struct{}

func (HeuristicEstimator) ModelVersion() string { return "heuristic-v1" }

func (h HeuristicEstimator) Estimate(_ context.Context, t models.Ticket) (models.Estimate, error) {
	combined := strings.ToLower(strings.TrimSpace(t.Subject + " " + t.Description))

	complexityBonus := 0
	var detected []string
	for _, factor := range complexityFactors {
		if strings.Contains(combined, factor.Keyword) {
			complexityBonus += factor.Minutes
			detected = append(detected, factor.Keyword)
		}
	}

	messagesBonus := len(t.Messages) * 5
	if messagesBonus > heuristicMessageBonusCap {
		messagesBonus = heuristicMessageBonusCap
	}

	total := heuristicBaseMinutes + complexityBonus + messagesBonus
	total = int(math.Round(float64(total)/5) * 5)

	confidence := heuristicConfidence
	diagnostics := map[string]any{
		"method":            MethodHeuristic,
		"base_minutes":      heuristicBaseMinutes,
		"complexity_bonus":  complexityBonus,
		"messages_bonus":    messagesBonus,
		"detected_keywords": detected,
	}
	return Finalize(t.ID, total, &confidence, MethodHeuristic, diagnostics), nil
}
