package ticket

import (
	"fmt"
	"strings"

	"github.com/analisi-ticket/backend/internal/models"
)

// PreviewTruncateAt is the per-message cap used by the light prompt
// mode. The full-text mode is the primary one: complete messages ground
// the model better.
const PreviewTruncateAt = 200

type PromptOptions struct {
	// Preview switches to the short prompt: only the first three
	// messages, truncated to PreviewTruncateAt characters each.
	Preview bool
}

// RenderFeatures produces the compact evidence set consumed by the
// heuristic and dataset-similarity strategies. The combined text is
// subject + description + the first three message bodies.
func RenderFeatures(t models.Ticket) models.Features {
	combined := strings.TrimSpace(t.Subject + " " + t.Description)
	if len(t.Messages) > 0 {
		first := t.Messages
		if len(first) > 3 {
			first = first[:3]
		}
		parts := make([]string, 0, len(first))
		for _, m := range first {
			parts = append(parts, m.Text)
		}
		combined = strings.TrimSpace(combined + " " + strings.Join(parts, " "))
	}

	return models.Features{
		Subject:        t.Subject,
		Description:    t.Description,
		Type:           t.Type,
		Company:        t.Company,
		Channel:        t.Channel,
		MessagesCount:  len(t.Messages),
		UpdatesCount:   len(t.Updates),
		CombinedText:   combined,
		CombinedLength: len(combined),
	}
}

// RenderPrompt builds the instruction block sent to the remote model.
// Deterministic interpolation only; the output-format constraints keep
// the response parseable as a bare integer.
func RenderPrompt(t models.Ticket, timeline []models.TimelineEvent, opts PromptOptions) string {
	var b strings.Builder

	b.WriteString("Analizza questo ticket di supporto tecnico e stima SOLO il numero di minuti necessari per risolverlo.\n\n")
	b.WriteString("TICKET INFO:\n")
	fmt.Fprintf(&b, "Oggetto: %s\n", t.Subject)
	fmt.Fprintf(&b, "Descrizione: %s\n", t.Description)
	fmt.Fprintf(&b, "Tipo: %s\n", t.Type)
	fmt.Fprintf(&b, "Azienda: %s\n", t.Company)
	fmt.Fprintf(&b, "Numero messaggi: %d\n", len(t.Messages))
	fmt.Fprintf(&b, "Numero aggiornamenti: %d\n", len(t.Updates))

	if opts.Preview {
		b.WriteString("\nPRIMI MESSAGGI:\n")
		count := 0
		for _, e := range timeline {
			if e.Kind != "message" {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", truncate(e.Text, PreviewTruncateAt))
			count++
			if count == 3 {
				break
			}
		}
	} else if len(timeline) > 0 {
		b.WriteString("\nCRONOLOGIA:\n")
		b.WriteString(RenderTimeline(timeline, 0))
		b.WriteString("\n")
	}

	b.WriteString(`
ISTRUZIONI:
- Considera la complessità tecnica del problema
- Considera il numero di interazioni cliente-tecnico
- Considera il tipo di supporto richiesto
- Considera che i tempi tipici vanno da 15 a 480 minuti
- Preferisci multipli di 10
- Rispondi SOLO con un numero intero di minuti
- Non aggiungere testo, spiegazioni o unità di misura

RISPOSTA (solo numero):`)

	return b.String()
}

func truncate(s string, n int) string {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
