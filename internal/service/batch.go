package service

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/analisi-ticket/backend/internal/dataset"
	"github.com/analisi-ticket/backend/internal/estimate"
	"github.com/analisi-ticket/backend/internal/models"
	"github.com/analisi-ticket/backend/internal/ticket"
)

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

const checkpointEvery = 50

// PredictionStore is the persistence sink the orchestrator needs:
// upsert by ticket id plus a status lookup for the idempotent skip.
type PredictionStore interface {
	GetStatus(ctx context.Context, ticketID string) (string, error)
	UpsertPending(ctx context.Context, p models.Prediction) error
	MarkProcessed(ctx context.Context, ticketID string, est models.Estimate) error
	MarkFailed(ctx context.Context, ticketID string, message string) error
}

// ProgressEvent is one ordered notification of batch progress. The core
// emits events; transports (SSE, logs) deliver them.
type ProgressEvent struct {
	Type       string             `json:"type"`
	Message    string             `json:"message,omitempty"`
	TicketID   string             `json:"ticket_id,omitempty"`
	Current    int                `json:"current,omitempty"`
	Total      int                `json:"total,omitempty"`
	Result     *models.BatchItem  `json:"result,omitempty"`
	Statistics *models.BatchStats `json:"statistics,omitempty"`
}

type ProgressSink interface {
	Emit(event ProgressEvent)
}

// LogSink delivers progress events to the service log; used for batch
// runs with no streaming client.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Emit(e ProgressEvent) {
	evt := s.Logger.Info().Str("event", e.Type)
	if e.TicketID != "" {
		evt = evt.Str("ticket_id", e.TicketID)
	}
	if e.Total > 0 {
		evt = evt.Int("current", e.Current).Int("total", e.Total)
	}
	evt.Msg(e.Message)
}

// BatchService drives one estimation strategy over a ticket collection:
// strictly sequential, dedup-skipping, partial-failure tolerant.
type BatchService struct {
	Store       PredictionStore
	Estimator   estimate.Estimator
	Loader      *dataset.Loader
	Limiter     *rate.Limiter
	Logger      zerolog.Logger
	ItemTimeout time.Duration
}

// AnalyzeSource loads a ticket blob and runs the batch over it. A
// source that cannot be loaded at all is fatal for the operation, not
// per-item.
func (s *BatchService) AnalyzeSource(ctx context.Context, sourceURL string, sink ProgressSink) ([]models.BatchItem, models.BatchStats, error) {
	sink.Emit(ProgressEvent{Type: "init", Message: "starting analysis"})

	records, err := s.Loader.Load(ctx, sourceURL)
	if err != nil {
		sink.Emit(ProgressEvent{Type: "error", Message: err.Error()})
		return nil, models.BatchStats{}, err
	}
	sink.Emit(ProgressEvent{
		Type:    "tickets_loaded",
		Total:   len(records),
		Message: "tickets loaded",
	})

	return s.RunBatch(ctx, records, sink)
}

// RunBatch processes raw ticket records in input order, one at a time.
// One item's failure never unwinds the loop; cancellation between items
// stops cleanly and keeps everything already recorded.
func (s *BatchService) RunBatch(ctx context.Context, records []map[string]any, sink ProgressSink) ([]models.BatchItem, models.BatchStats, error) {
	batchID := uuid.NewString()
	total := len(records)
	logger := s.Logger.With().Str("batch_id", batchID).Logger()
	logger.Info().Int("total", total).Str("model", s.Estimator.ModelVersion()).Msg("batch started")

	items := make([]models.BatchItem, 0, total)
	var stats models.BatchStats
	stats.Total = total

	var minutesSum int

	for index, record := range records {
		if err := ctx.Err(); err != nil {
			logger.Info().Int("processed", stats.Processed).Msg("batch cancelled")
			finishStats(&stats, minutesSum)
			return items, stats, err
		}

		ticketID := ticket.SynthesizeID(record, index)

		if status, err := s.Store.GetStatus(ctx, ticketID); err != nil {
			logger.Warn().Err(err).Str("ticket_id", ticketID).Msg("status lookup failed")
		} else if status == StatusProcessed {
			logger.Debug().Str("ticket_id", ticketID).Msg("already processed, skip")
			stats.Skipped++
			items = append(items, models.BatchItem{TicketID: ticketID, Status: "skipped"})
			continue
		}

		sink.Emit(ProgressEvent{
			Type:     "processing",
			TicketID: ticketID,
			Current:  stats.Processed + 1,
			Total:    total,
			Message:  "analyzing ticket",
		})

		item := s.processOne(ctx, ticketID, record, logger)
		items = append(items, item)
		stats.Processed++
		if item.Status == "success" {
			stats.Successful++
			minutesSum += *item.EstimatedMinutes
		} else {
			stats.Failed++
		}

		running := stats
		finishStats(&running, minutesSum)
		sink.Emit(ProgressEvent{
			Type:       "result",
			TicketID:   ticketID,
			Result:     &item,
			Statistics: &running,
		})

		if stats.Processed%checkpointEvery == 0 {
			logger.Info().
				Int("processed", stats.Processed).
				Int("successful", stats.Successful).
				Int("failed", stats.Failed).
				Int("total", total).
				Msg("progress checkpoint")
		}

		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				logger.Info().Int("processed", stats.Processed).Msg("batch cancelled")
				finishStats(&stats, minutesSum)
				return items, stats, err
			}
		}
	}

	finishStats(&stats, minutesSum)
	sink.Emit(ProgressEvent{Type: "completed", Statistics: &stats, Message: "analysis completed"})
	logger.Info().
		Int("processed", stats.Processed).
		Int("successful", stats.Successful).
		Int("failed", stats.Failed).
		Float64("success_rate", stats.SuccessRate).
		Msg("batch completed")

	return items, stats, nil
}

func (s *BatchService) processOne(ctx context.Context, ticketID string, record map[string]any, logger zerolog.Logger) models.BatchItem {
	t := ticket.Normalize(record)
	t.ID = ticketID

	pending := models.Prediction{
		TicketID:     ticketID,
		Company:      defaultString(t.Company, "Unknown"),
		Subject:      t.Subject,
		Description:  t.Description,
		Type:         t.Type,
		Channel:      t.Channel,
		TicketData:   marshalRaw(record),
		Status:       StatusPending,
		ModelVersion: s.Estimator.ModelVersion(),
	}
	if err := s.Store.UpsertPending(ctx, pending); err != nil {
		logger.Error().Err(err).Str("ticket_id", ticketID).Msg("pending upsert failed")
		return models.BatchItem{TicketID: ticketID, Status: "error", Error: err.Error()}
	}

	itemCtx := ctx
	if s.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, s.ItemTimeout)
		defer cancel()
	}

	est, err := s.Estimator.Estimate(itemCtx, t)
	if err != nil {
		logger.Error().Err(err).Str("ticket_id", ticketID).Msg("estimation failed")
		if markErr := s.Store.MarkFailed(ctx, ticketID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Str("ticket_id", ticketID).Msg("failure record write failed")
		}
		return models.BatchItem{TicketID: ticketID, Status: "error", Error: err.Error()}
	}

	if err := s.Store.MarkProcessed(ctx, ticketID, est); err != nil {
		logger.Error().Err(err).Str("ticket_id", ticketID).Msg("result write failed")
		return models.BatchItem{TicketID: ticketID, Status: "error", Error: err.Error()}
	}

	minutes := est.PredictedMinutes
	logger.Info().Str("ticket_id", ticketID).Int("minutes", minutes).Msg("ticket analyzed")
	return models.BatchItem{TicketID: ticketID, EstimatedMinutes: &minutes, Status: "success"}
}

func finishStats(stats *models.BatchStats, minutesSum int) {
	if stats.Processed > 0 {
		stats.SuccessRate = math.Round(float64(stats.Successful)/float64(stats.Processed)*100*100) / 100
	}
	if stats.Successful > 0 {
		avg := float64(minutesSum) / float64(stats.Successful)
		stats.AverageMinutes = math.Round(avg*10) / 10
		stats.AverageHours = math.Round(avg/60*100) / 100
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func marshalRaw(record map[string]any) []byte {
	b, err := json.Marshal(record)
	if err != nil {
		return []byte("{}")
	}
	return b
}
