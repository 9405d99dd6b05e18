package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/time/rate"

	"github.com/analisi-ticket/backend/internal/config"
	"github.com/analisi-ticket/backend/internal/dataset"
	"github.com/analisi-ticket/backend/internal/db"
	"github.com/analisi-ticket/backend/internal/estimate"
	"github.com/analisi-ticket/backend/internal/http/handlers"
	"github.com/analisi-ticket/backend/internal/http/middleware"

	_ "github.com/analisi-ticket/backend/docs"
)

func Router(cfg config.Config, store *db.Store, remote estimate.Estimator, loader *dataset.Loader, limiter *rate.Limiter, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:     store,
		Remote:    remote,
		Heuristic: estimate.HeuristicEstimator{},
		Dataset: &estimate.DatasetEstimator{
			Loader:    loader,
			SourceURL: cfg.DatasetURL,
			Logger:    logger,
		},
		Loader:      loader,
		Limiter:     limiter,
		Validator:   validator.New(),
		Logger:      logger,
		AdminKey:    cfg.AdminKey,
		ItemTimeout: cfg.ItemTimeout,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/predictions", h.ResultsList)
		api.GET("/tickets/:ticket_id/predictions", h.PredictionsByTicket)
		api.GET("/statistics", h.Statistics)
		api.GET("/models", h.ModelsList)
		api.GET("/export/csv", h.ExportCSV)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/predict", h.Predict)
		admin.POST("/predict/heuristic", h.PredictHeuristic)
		admin.POST("/predict/dataset", h.PredictDataset)
		admin.POST("/analysis/run", h.AnalysisRun)
		admin.GET("/analysis/stream", h.AnalysisStream)
		admin.PUT("/predictions/:id/actual-time", h.UpdateActualTime)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
