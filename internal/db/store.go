package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/analisi-ticket/backend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// GetStatus returns the persisted status for a ticket, or "" when the
// ticket has never been recorded.
func (s *Store) GetStatus(ctx context.Context, ticketID string) (string, error) {
	var status string
	err := s.Pool.QueryRow(ctx, `SELECT status FROM ticket_predictions WHERE ticket_id = $1`, ticketID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

func (s *Store) UpsertPending(ctx context.Context, p models.Prediction) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO ticket_predictions (ticket_id, company_name, subject, description, ticket_type, channel, ticket_data, status, model_version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
		ON CONFLICT (ticket_id) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			subject = EXCLUDED.subject,
			description = EXCLUDED.description,
			ticket_type = EXCLUDED.ticket_type,
			channel = EXCLUDED.channel,
			ticket_data = EXCLUDED.ticket_data,
			status = EXCLUDED.status,
			model_version = EXCLUDED.model_version,
			updated_at = NOW()
	`, p.TicketID, p.Company, p.Subject, p.Description, p.Type, p.Channel, p.TicketData, p.Status, p.ModelVersion)
	return err
}

func (s *Store) MarkProcessed(ctx context.Context, ticketID string, est models.Estimate) error {
	response, _ := json.Marshal(est.Diagnostics)
	_, err := s.Pool.Exec(ctx, `
		UPDATE ticket_predictions
		SET predicted_minutes = $1,
			confidence_score = $2,
			model_response = $3,
			status = 'processed',
			error_message = NULL,
			predicted_at = NOW(),
			updated_at = NOW()
		WHERE ticket_id = $4
	`, est.PredictedMinutes, est.Confidence, response, ticketID)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, ticketID string, message string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE ticket_predictions
		SET status = 'failed',
			error_message = $1,
			updated_at = NOW()
		WHERE ticket_id = $2
	`, message, ticketID)
	return err
}

const predictionColumns = `id, ticket_id, company_name, subject, description, ticket_type, channel, predicted_minutes, confidence_score, model_version, status, error_message, actual_minutes, accuracy_score, predicted_at`

func (s *Store) ListPredictions(ctx context.Context, status, company, q string, limit, offset int) ([]models.Prediction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + predictionColumns + ` FROM ticket_predictions`
	var args []any
	var wheres []string
	if status != "" {
		args = append(args, status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if company != "" {
		args = append(args, company)
		wheres = append(wheres, fmt.Sprintf("company_name = $%d", len(args)))
	}
	if q != "" {
		args = append(args, "%"+q+"%")
		wheres = append(wheres, fmt.Sprintf("(ticket_id ILIKE $%d OR subject ILIKE $%d)", len(args), len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPredictions(rows)
}

func (s *Store) GetPredictionsByTicket(ctx context.Context, ticketID string) ([]models.Prediction, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+predictionColumns+` FROM ticket_predictions WHERE ticket_id = $1 ORDER BY predicted_at DESC NULLS LAST`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPredictions(rows)
}

func (s *Store) GetPredictionByID(ctx context.Context, id int64) (models.Prediction, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+predictionColumns+` FROM ticket_predictions WHERE id = $1`, id)
	return scanPrediction(row)
}

// UpdateActualTime records the real resolution time and the derived
// accuracy score for one prediction.
func (s *Store) UpdateActualTime(ctx context.Context, id int64, actualMinutes, accuracy float64) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE ticket_predictions
		SET actual_minutes = $1,
			accuracy_score = $2,
			updated_at = NOW()
		WHERE id = $3
	`, actualMinutes, accuracy, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Statistics aggregates the prediction table for the stats endpoint.
func (s *Store) Statistics(ctx context.Context) (map[string]any, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'processed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(actual_minutes),
			COALESCE(AVG(accuracy_score), 0),
			COALESCE(AVG(predicted_minutes), 0),
			COALESCE(AVG(actual_minutes), 0)
		FROM ticket_predictions
	`)

	var (
		total, processed, failed, withActual int
		avgAccuracy, avgPredicted, avgActual float64
	)
	if err := row.Scan(&total, &processed, &failed, &withActual, &avgAccuracy, &avgPredicted, &avgActual); err != nil {
		return nil, err
	}

	completionRate := 0.0
	if total > 0 {
		completionRate = round2(float64(withActual) / float64(total) * 100)
	}
	return map[string]any{
		"total_predictions":            total,
		"processed":                    processed,
		"failed":                       failed,
		"predictions_with_actual_time": withActual,
		"completion_rate":              completionRate,
		"average_accuracy":             round3(avgAccuracy),
		"average_predicted_minutes":    round1(avgPredicted),
		"average_actual_minutes":       round1(avgActual),
	}, nil
}

// ListForExport returns every prediction in analysis order for the CSV
// export.
func (s *Store) ListForExport(ctx context.Context) ([]models.Prediction, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+predictionColumns+` FROM ticket_predictions ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPredictions(rows)
}

func scanPredictions(rows pgx.Rows) ([]models.Prediction, error) {
	var out []models.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPrediction(row pgx.Row) (models.Prediction, error) {
	var (
		p           models.Prediction
		predictedAt *time.Time
	)
	err := row.Scan(
		&p.ID, &p.TicketID, &p.Company, &p.Subject, &p.Description, &p.Type, &p.Channel,
		&p.PredictedMinutes, &p.Confidence, &p.ModelVersion, &p.Status, &p.ErrorMessage,
		&p.ActualMinutes, &p.AccuracyScore, &predictedAt,
	)
	if err != nil {
		return models.Prediction{}, err
	}
	p.PredictedAt = predictedAt
	return p, nil
}

func round1(v float64) float64 { return roundTo(v, 10) }
func round2(v float64) float64 { return roundTo(v, 100) }
func round3(v float64) float64 { return roundTo(v, 1000) }

func roundTo(v float64, factor float64) float64 {
	if v >= 0 {
		return float64(int64(v*factor+0.5)) / factor
	}
	return float64(int64(v*factor-0.5)) / factor
}
