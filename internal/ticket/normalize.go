package ticket

import (
	"fmt"
	"strings"

	"github.com/analisi-ticket/backend/internal/models"
)

// Ordered raw-key aliases per canonical field. The legacy exports mix
// Italian and English column names, so every lookup walks the list in
// priority order and falls back to a typed default.
var (
	idKeys          = []string{"tid", "ticket_id"}
	subjectKeys     = []string{"obj", "subject"}
	descriptionKeys = []string{"software_description", "description"}
	typeKeys        = []string{"type", "ticket_type"}
	companyKeys     = []string{"azienda", "company_name"}
	channelKeys     = []string{"channel"}
	openDateKeys    = []string{"open_date"}
	closeDateKeys   = []string{"close_date"}
)

const unknownValue = "unknown"

// Normalize builds the canonical Ticket view from a raw record. It
// never fails: missing fields become empty strings, empty slices or
// "unknown". The raw map is retained for persistence.
func Normalize(raw map[string]any) models.Ticket {
	t := models.Ticket{
		ID:          stringField(raw, idKeys...),
		Subject:     stringField(raw, subjectKeys...),
		Description: stringField(raw, descriptionKeys...),
		Type:        stringFieldDefault(raw, unknownValue, typeKeys...),
		Channel:     stringFieldDefault(raw, unknownValue, channelKeys...),
		Company:     stringField(raw, companyKeys...),
		OpenDate:    stringField(raw, openDateKeys...),
		CloseDate:   stringField(raw, closeDateKeys...),
		Messages:    normalizeMessages(raw["all_messages_json"]),
		Updates:     normalizeUpdates(raw["all_updates_json"]),
		Raw:         raw,
	}
	return t
}

// SynthesizeID returns the ticket id, or a positional TICKET-{index}
// placeholder when the source record carries none.
func SynthesizeID(raw map[string]any, index int) string {
	if id := stringField(raw, idKeys...); id != "" {
		return id
	}
	return fmt.Sprintf("TICKET-%d", index)
}

func normalizeMessages(v any) []models.Message {
	items, ok := v.([]any)
	if !ok {
		return []models.Message{}
	}
	out := make([]models.Message, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, models.Message{
			AuthorRole:   stringField(m, "author_role"),
			Timestamp:    stringField(m, "timestamp"),
			CreationDate: stringField(m, "creation_date"),
			Text:         stringField(m, "message", "text"),
		})
	}
	return out
}

func normalizeUpdates(v any) []models.Update {
	items, ok := v.([]any)
	if !ok {
		return []models.Update{}
	}
	out := make([]models.Update, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, models.Update{
			AuthorRole:   stringField(m, "author_role"),
			Timestamp:    stringField(m, "timestamp"),
			CreationDate: stringField(m, "creation_date"),
			Kind:         stringFieldDefault(m, "status", "kind", "type"),
			Value:        stringField(m, "update", "descr", "value"),
		})
	}
	return out
}

func stringField(raw map[string]any, keys ...string) string {
	return stringFieldDefault(raw, "", keys...)
}

func stringFieldDefault(raw map[string]any, fallback string, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		case float64:
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", s), "0"), ".")
		case int:
			return fmt.Sprintf("%d", s)
		}
	}
	return fallback
}
