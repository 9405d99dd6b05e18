package estimate

import (
	"context"

	"github.com/analisi-ticket/backend/internal/models"
	"github.com/analisi-ticket/backend/internal/utils"
)

// MockEstimator stands in for the remote model when no Vertex project
// is configured. Deterministic per ticket id so repeated runs agree.
type MockEstimator struct {
	Version string
}

func (m MockEstimator) ModelVersion() string {
	if m.Version == "" {
		return "mock-v1"
	}
	return m.Version
}

func (m MockEstimator) Estimate(_ context.Context, t models.Ticket) (models.Estimate, error) {
	h := utils.HashStringToUint64(t.ID)

	minutes := MinMinutes + int(h%94)*5
	confidence := 0.75
	if h%5 == 0 {
		confidence = 0.62
	}

	diagnostics := map[string]any{
		"model": m.ModelVersion(),
	}
	return Finalize(t.ID, minutes, &confidence, MethodRemoteModel, diagnostics), nil
}
