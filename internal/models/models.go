package models

import "time"

// Ticket is the canonical view of one support case, normalized from the
// heterogeneous raw export records.
type Ticket struct {
	ID          string         `json:"ticket_id"`
	Subject     string         `json:"subject"`
	Description string         `json:"description"`
	Type        string         `json:"ticket_type"`
	Channel     string         `json:"channel"`
	Company     string         `json:"company_name"`
	OpenDate    string         `json:"open_date,omitempty"`
	CloseDate   string         `json:"close_date,omitempty"`
	Messages    []Message      `json:"all_messages_json"`
	Updates     []Update       `json:"all_updates_json"`
	Raw         map[string]any `json:"-"`
}

type Message struct {
	AuthorRole   string `json:"author_role"`
	Timestamp    string `json:"timestamp"`
	CreationDate string `json:"creation_date"`
	Text         string `json:"message"`
}

type Update struct {
	AuthorRole   string `json:"author_role"`
	Timestamp    string `json:"timestamp"`
	CreationDate string `json:"creation_date"`
	Kind         string `json:"kind"`
	Value        string `json:"update"`
}

// TimelineEvent is one message or status update placed on the merged
// conversation timeline. At is the zero time when RawDate could not be
// parsed; such events sort first and are kept.
type TimelineEvent struct {
	At      time.Time `json:"-"`
	RawDate string    `json:"date"`
	Kind    string    `json:"kind"` // "message" or "update"
	Author  string    `json:"author"`
	Text    string    `json:"text"`
}

// Features is the compact evidence set used by the heuristic and
// dataset-similarity strategies.
type Features struct {
	Subject        string `json:"subject"`
	Description    string `json:"description"`
	Type           string `json:"ticket_type"`
	Company        string `json:"company_name"`
	Channel        string `json:"channel"`
	MessagesCount  int    `json:"messages_count"`
	UpdatesCount   int    `json:"updates_count"`
	CombinedText   string `json:"combined_text"`
	CombinedLength int    `json:"text_length"`
}

// Estimate is a finalized prediction for one ticket.
type Estimate struct {
	TicketID         string         `json:"ticket_id"`
	PredictedMinutes int            `json:"predicted_minutes"`
	PredictedHours   float64        `json:"predicted_hours"`
	Confidence       *float64       `json:"confidence_score"`
	Quality          string         `json:"prediction_quality"`
	Method           string         `json:"method"`
	Diagnostics      map[string]any `json:"diagnostics,omitempty"`
}

// SimilarCandidate is a historical ticket retained by the similarity
// search together with its score.
type SimilarCandidate struct {
	Ticket Ticket  `json:"-"`
	Score  float64 `json:"similarity_score"`
}

// Prediction is the persisted record for one analyzed ticket.
type Prediction struct {
	ID               int64      `json:"id"`
	TicketID         string     `json:"ticket_id"`
	Company          string     `json:"company_name"`
	Subject          string     `json:"subject"`
	Description      string     `json:"description"`
	Type             string     `json:"ticket_type"`
	Channel          string     `json:"channel"`
	TicketData       []byte     `json:"-"`
	PredictedMinutes *int       `json:"predicted_minutes"`
	Confidence       *float64   `json:"confidence_score"`
	ModelVersion     string     `json:"model_version"`
	Status           string     `json:"status"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	ActualMinutes    *float64   `json:"actual_minutes,omitempty"`
	AccuracyScore    *float64   `json:"accuracy_score,omitempty"`
	PredictedAt      *time.Time `json:"predicted_at,omitempty"`
}

// BatchItem is the per-ticket outcome of one batch run.
type BatchItem struct {
	TicketID         string `json:"ticket_id"`
	EstimatedMinutes *int   `json:"estimated_minutes"`
	Status           string `json:"status"` // success | error | skipped
	Error            string `json:"error,omitempty"`
}

// BatchStats aggregates one batch run.
type BatchStats struct {
	Total          int     `json:"total_tickets"`
	Processed      int     `json:"processed"`
	Successful     int     `json:"successful_analyses"`
	Failed         int     `json:"failed_analyses"`
	Skipped        int     `json:"skipped"`
	SuccessRate    float64 `json:"success_rate"`
	AverageMinutes float64 `json:"average_estimated_minutes"`
	AverageHours   float64 `json:"average_estimated_hours"`
}
