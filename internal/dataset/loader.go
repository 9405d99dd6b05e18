package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnavailable marks fetch failures so callers can distinguish a dead
// source from a malformed one.
var ErrUnavailable = errors.New("dataset unavailable")

// Loader fetches line-delimited JSON ticket blobs over HTTP and keeps
// them in an in-process cache keyed by source URL. Malformed lines are
// skipped with a warning, not fatal.
type Loader struct {
	Client *http.Client
	TTL    time.Duration
	Logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	records []map[string]any
	exp     time.Time
}

const defaultTTL = time.Hour

// Scanner limit for a single JSONL line; full conversation histories
// get long.
const maxLineBytes = 4 << 20

func (l *Loader) Load(ctx context.Context, sourceURL string) ([]map[string]any, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, fmt.Errorf("dataset source URL is not set")
	}
	if l.Client == nil {
		l.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if l.TTL <= 0 {
		l.TTL = defaultTTL
	}

	l.mu.Lock()
	if l.cache == nil {
		l.cache = map[string]cacheEntry{}
	}
	if e, ok := l.cache[sourceURL]; ok && time.Now().Before(e.exp) {
		l.mu.Unlock()
		return e.records, nil
	}
	l.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}

	records, skipped := ParseLines(resp.Body)
	if skipped > 0 {
		l.Logger.Warn().Int("skipped_lines", skipped).Str("source", sourceURL).Msg("dataset contains malformed lines")
	}
	l.Logger.Info().Int("tickets_count", len(records)).Str("source", sourceURL).Msg("dataset loaded")

	l.mu.Lock()
	l.cache[sourceURL] = cacheEntry{records: records, exp: time.Now().Add(l.TTL)}
	l.mu.Unlock()

	return records, nil
}

// Invalidate drops the cached copy of one source.
func (l *Loader) Invalidate(sourceURL string) {
	l.mu.Lock()
	delete(l.cache, sourceURL)
	l.mu.Unlock()
}

// ParseLines reads one JSON object per line. Blank lines are ignored,
// unparsable lines are counted and skipped.
func ParseLines(r io.Reader) ([]map[string]any, int) {
	var records []map[string]any
	skipped := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			skipped++
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		skipped++
	}
	return records, skipped
}
