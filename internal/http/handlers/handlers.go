package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/analisi-ticket/backend/internal/dataset"
	"github.com/analisi-ticket/backend/internal/db"
	"github.com/analisi-ticket/backend/internal/estimate"
	"github.com/analisi-ticket/backend/internal/service"
	"github.com/analisi-ticket/backend/internal/ticket"
)

type Handler struct {
	Store       *db.Store
	Remote      estimate.Estimator
	Heuristic   estimate.HeuristicEstimator
	Dataset     *estimate.DatasetEstimator
	Loader      *dataset.Loader
	Limiter     *rate.Limiter
	Validator   *validator.Validate
	Logger      zerolog.Logger
	AdminKey    string
	ItemTimeout time.Duration
}

type AnalyzeRequest struct {
	SourceURL string `json:"source_url" validate:"required,url"`
	Method    string `json:"method" validate:"omitempty,oneof=remote_model heuristic dataset_similarity"`
}

type ActualTimeRequest struct {
	ActualMinutes float64 `json:"actual_minutes" validate:"required,gt=0"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Predict resolution time for one ticket
// @Description Estimates minutes to resolve using the remote model
// @Tags predict
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/predict [post]
func (h *Handler) Predict(c *gin.Context) {
	h.predictWith(c, h.Remote)
}

func (h *Handler) PredictHeuristic(c *gin.Context) {
	h.predictWith(c, h.Heuristic)
}

func (h *Handler) PredictDataset(c *gin.Context) {
	h.predictWith(c, h.Dataset)
}

func (h *Handler) predictWith(c *gin.Context, estimator estimate.Estimator) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}

	t := ticket.Normalize(raw)
	if t.Subject == "" && t.Description == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", "subject or description is required")
		return
	}
	if t.ID == "" {
		t.ID = ticket.SynthesizeID(raw, 0)
	}

	ctx := c.Request.Context()
	if h.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.ItemTimeout)
		defer cancel()
	}

	est, err := estimator.Estimate(ctx, t)
	if err != nil {
		h.Logger.Error().Err(err).Str("ticket_id", t.ID).Msg("prediction failed")
		writeError(c, http.StatusBadGateway, "MODEL_ERROR", "Prediction failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"prediction": est})
}

// @Summary Run batch analysis
// @Description Loads a ticket collection and estimates every ticket in order
// @Tags analysis
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/analysis/run [post]
func (h *Handler) AnalysisRun(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	batch, err := h.batchFor(req.Method)
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	sink := service.LogSink{Logger: h.Logger}
	items, stats, err := batch.AnalyzeSource(c.Request.Context(), req.SourceURL, sink)
	if err != nil && len(items) == 0 {
		writeError(c, http.StatusBadGateway, "SOURCE_ERROR", "Failed to load ticket source", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results":    items,
		"statistics": stats,
	})
}

// AnalysisStream runs the batch and streams progress as server-sent
// events. A dropped client cancels the run; everything already recorded
// stays recorded.
func (h *Handler) AnalysisStream(c *gin.Context) {
	sourceURL := c.Query("source_url")
	if sourceURL == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", "source_url is required")
		return
	}

	batch, err := h.batchFor(c.Query("method"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan service.ProgressEvent, 16)
	sink := channelSink{ctx: ctx, ch: events}
	go func() {
		defer close(events)
		if _, _, err := batch.AnalyzeSource(ctx, sourceURL, sink); err != nil {
			h.Logger.Warn().Err(err).Msg("streamed analysis stopped")
		}
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

type channelSink struct {
	ctx context.Context
	ch  chan service.ProgressEvent
}

func (s channelSink) Emit(e service.ProgressEvent) {
	select {
	case s.ch <- e:
	case <-s.ctx.Done():
	}
}

func (h *Handler) batchFor(method string) (*service.BatchService, error) {
	estimator, err := h.estimatorFor(method)
	if err != nil {
		return nil, err
	}
	return &service.BatchService{
		Store:       h.Store,
		Estimator:   estimator,
		Loader:      h.Loader,
		Limiter:     h.Limiter,
		Logger:      h.Logger,
		ItemTimeout: h.ItemTimeout,
	}, nil
}

func (h *Handler) estimatorFor(method string) (estimate.Estimator, error) {
	switch method {
	case "", estimate.MethodRemoteModel:
		return h.Remote, nil
	case estimate.MethodHeuristic:
		return h.Heuristic, nil
	case estimate.MethodDataset:
		return h.Dataset, nil
	default:
		return nil, fmt.Errorf("unknown estimation method %q", method)
	}
}

// @Summary List predictions
// @Tags predictions
// @Produce json
// @Param status query string false "status filter"
// @Param company query string false "company filter"
// @Param q query string false "ticket id or subject search"
// @Success 200 {object} map[string]any
// @Router /api/predictions [get]
func (h *Handler) ResultsList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	predictions, err := h.Store.ListPredictions(c.Request.Context(), c.Query("status"), c.Query("company"), c.Query("q"), limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load predictions", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": predictions,
		"count":   len(predictions),
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *Handler) PredictionsByTicket(c *gin.Context) {
	predictions, err := h.Store.GetPredictionsByTicket(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load predictions", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": predictions})
}

// @Summary Record the actual resolution time
// @Description Stores the real minutes spent and derives an accuracy score
// @Tags predictions
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/predictions/{id}/actual-time [put]
func (h *Handler) UpdateActualTime(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid prediction id", nil)
		return
	}

	var req ActualTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	ctx := c.Request.Context()
	prediction, err := h.Store.GetPredictionByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Prediction not found", nil)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load prediction", err.Error())
		return
	}

	accuracy := 0.0
	if prediction.PredictedMinutes != nil {
		accuracy = estimate.Accuracy(float64(*prediction.PredictedMinutes), req.ActualMinutes)
	}

	if err := h.Store.UpdateActualTime(ctx, id, req.ActualMinutes, accuracy); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to update prediction", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             id,
		"actual_minutes": req.ActualMinutes,
		"accuracy_score": accuracy,
	})
}

func (h *Handler) Statistics(c *gin.Context) {
	stats, err := h.Store.Statistics(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load statistics", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ModelsList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"current": h.Remote.ModelVersion(),
		"models": []gin.H{
			{"name": "gemini-2.0-flash-lite-001", "description": "Fast, low-cost text model"},
			{"name": "gemini-1.5-flash", "description": "Fast general-purpose model"},
			{"name": "gemini-1.5-pro", "description": "Higher quality, slower"},
			{"name": "text-bison", "description": "Legacy text model"},
			{"name": "chat-bison", "description": "Legacy chat model"},
		},
	})
}

// @Summary Export predictions as CSV
// @Tags predictions
// @Produce text/csv
// @Success 200 {string} string
// @Router /api/export/csv [get]
func (h *Handler) ExportCSV(c *gin.Context) {
	predictions, err := h.Store.ListForExport(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load predictions", err.Error())
		return
	}

	c.Writer.Header().Set("Content-Type", "text/csv")
	c.Writer.Header().Set("Content-Disposition", `attachment; filename="predictions.csv"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"Ticket ID", "Estimated Minutes", "Estimated Hours", "Status", "Error"})
	for _, p := range predictions {
		minutes := ""
		hours := ""
		if p.PredictedMinutes != nil {
			minutes = strconv.Itoa(*p.PredictedMinutes)
			hours = strconv.FormatFloat(float64(*p.PredictedMinutes)/60, 'f', 2, 64)
		}
		errMsg := ""
		if p.ErrorMessage != nil {
			errMsg = *p.ErrorMessage
		}
		_ = w.Write([]string{p.TicketID, minutes, hours, p.Status, errMsg})
	}
	w.Flush()
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
