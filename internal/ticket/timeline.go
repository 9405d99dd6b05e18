package ticket

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/analisi-ticket/backend/internal/models"
)

// Accepted event date layouts, tried in order. The legacy exports are
// not consistent about which one a row uses.
var eventTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseEventTime parses a raw event date. Unparsable dates return the
// zero time and false; the zero time is an explicit sentinel that makes
// such events sort before everything else instead of being dropped.
func ParseEventTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range eventTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// BuildTimeline merges messages and status updates into one
// chronologically ordered conversation. Events whose dates cannot be
// parsed keep the zero-time sentinel and are never excluded.
func BuildTimeline(t models.Ticket) []models.TimelineEvent {
	events := make([]models.TimelineEvent, 0, len(t.Messages)+len(t.Updates))

	for _, m := range t.Messages {
		raw := firstNonEmpty(m.Timestamp, m.CreationDate)
		at, _ := ParseEventTime(raw)
		events = append(events, models.TimelineEvent{
			At:      at,
			RawDate: raw,
			Kind:    "message",
			Author:  firstNonEmpty(m.AuthorRole, unknownValue),
			Text:    m.Text,
		})
	}
	for _, u := range t.Updates {
		raw := firstNonEmpty(u.Timestamp, u.CreationDate)
		at, _ := ParseEventTime(raw)
		events = append(events, models.TimelineEvent{
			At:      at,
			RawDate: raw,
			Kind:    "update",
			Author:  firstNonEmpty(u.Kind, "status"),
			Text:    u.Value,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].At.Before(events[j].At)
	})
	return events
}

// RenderEvent formats one timeline event as a single human-readable
// line. truncateAt <= 0 keeps the full text; the truncated preview mode
// exists for short prompts only.
func RenderEvent(e models.TimelineEvent, truncateAt int) string {
	text := e.Text
	if truncateAt > 0 && len(text) > truncateAt {
		text = text[:truncateAt]
	}
	if e.Kind == "update" {
		return fmt.Sprintf("[%s] Aggiornamento di stato - %s: %s", e.RawDate, e.Author, text)
	}
	return fmt.Sprintf("[%s] Messaggio da %s: %s", e.RawDate, e.Author, text)
}

// RenderTimeline renders every event, one per line.
func RenderTimeline(events []models.TimelineEvent, truncateAt int) string {
	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, RenderEvent(e, truncateAt))
	}
	return strings.Join(lines, "\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
