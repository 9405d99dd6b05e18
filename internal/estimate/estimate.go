package estimate

import (
	"context"
	"fmt"
	"math"

	"github.com/analisi-ticket/backend/internal/models"
)

// Estimation methods.
const (
	MethodRemoteModel = "remote_model"
	MethodHeuristic   = "heuristic"
	MethodDataset     = "dataset_similarity"
)

// Minute bounds. Model-backed estimates may claim up to one 8-hour
// workday; rule-derived estimates (heuristic, similarity average) are
// capped at half of that. Rationale in DESIGN.md.
const (
	MinMinutes        = 15
	MaxModelMinutes   = 480
	MaxDerivedMinutes = 240
)

// Estimator converts ticket evidence into a minutes-and-confidence
// estimate. Implementations fail with *EstimationError and never return
// a sentinel that looks like a valid estimate.
type Estimator interface {
	Estimate(ctx context.Context, t models.Ticket) (models.Estimate, error)
	ModelVersion() string
}

// EstimationError carries the failing method and a human-readable
// cause. The batch orchestrator records it per item; it never aborts a
// batch.
type EstimationError struct {
	Method  string
	Message string
	Err     error
}

func (e *EstimationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Method, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

func (e *EstimationError) Unwrap() error {
	return e.Err
}

// Finalize clamps a raw estimate into the accepted domain for its
// method and derives the presentation fields.
func Finalize(ticketID string, minutes int, confidence *float64, method string, diagnostics map[string]any) models.Estimate {
	clamped := ClampMinutes(minutes, MinMinutes, UpperBound(method))

	var conf *float64
	if confidence != nil {
		c := math.Min(1, math.Max(0, *confidence))
		conf = &c
	}

	return models.Estimate{
		TicketID:         ticketID,
		PredictedMinutes: clamped,
		PredictedHours:   math.Round(float64(clamped)/60*100) / 100,
		Confidence:       conf,
		Quality:          Quality(conf),
		Method:           method,
		Diagnostics:      diagnostics,
	}
}

// UpperBound returns the minute ceiling for a method.
func UpperBound(method string) int {
	if method == MethodRemoteModel {
		return MaxModelMinutes
	}
	return MaxDerivedMinutes
}

func ClampMinutes(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Quality maps a confidence score to the three-level label used by the
// API. A missing confidence is "unknown", not "low".
func Quality(confidence *float64) string {
	switch {
	case confidence == nil:
		return "unknown"
	case *confidence >= 0.8:
		return "high"
	case *confidence >= 0.6:
		return "medium"
	default:
		return "low"
	}
}

// Accuracy scores a prediction against the actual resolution time as
// 1 minus the relative error, floored at 0.
func Accuracy(predicted, actual float64) float64 {
	if actual == 0 {
		if predicted == 0 {
			return 1
		}
		return 0
	}
	relativeError := math.Abs(predicted-actual) / actual
	return math.Max(0, 1-relativeError)
}
