package estimate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/analisi-ticket/backend/internal/models"
	"github.com/analisi-ticket/backend/internal/ticket"
)

// VertexEstimator calls a Vertex-style generation endpoint. Model
// routing: names containing "gemini" use the chat-style generateContent
// endpoint, anything else the legacy predict endpoint. When EndpointID
// is set, a custom structured-prediction endpoint is used instead and
// its confidence field is passed through.
type VertexEstimator struct {
	BaseURL     string // override for tests; default derived from Location
	ProjectID   string
	Location    string
	Model       string
	EndpointID  string
	AccessToken string
	Client      *http.Client
	Timeout     time.Duration
}

func (v *VertexEstimator) ModelVersion() string {
	if v.EndpointID != "" {
		return "vertex-endpoint-" + v.EndpointID
	}
	return v.Model
}

func (v *VertexEstimator) Estimate(ctx context.Context, t models.Ticket) (models.Estimate, error) {
	if strings.TrimSpace(v.ProjectID) == "" {
		return models.Estimate{}, &EstimationError{Method: MethodRemoteModel, Message: "VERTEX_AI_PROJECT_ID is not set"}
	}

	if v.EndpointID != "" {
		return v.predictStructured(ctx, t)
	}

	prompt := ticket.RenderPrompt(t, ticket.BuildTimeline(t), ticket.PromptOptions{})

	var (
		text string
		err  error
	)
	if strings.Contains(v.Model, "gemini") {
		text, err = v.generateContent(ctx, prompt)
	} else {
		text, err = v.predictText(ctx, prompt)
	}
	if err != nil {
		var estErr *EstimationError
		if errors.As(err, &estErr) {
			return models.Estimate{}, err
		}
		return models.Estimate{}, &EstimationError{Method: MethodRemoteModel, Message: "model call failed", Err: err}
	}

	minutes, how := ExtractMinutes(text)
	diagnostics := map[string]any{
		"model":        v.Model,
		"raw_response": text,
		"extraction":   how,
	}
	// No calibrated confidence at the text layer.
	return Finalize(t.ID, minutes, nil, MethodRemoteModel, diagnostics), nil
}

func (v *VertexEstimator) baseURL() string {
	if v.BaseURL != "" {
		return strings.TrimRight(v.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com", v.Location)
}

func (v *VertexEstimator) generateContent(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		v.baseURL(), v.ProjectID, v.Location, v.Model)

	payload := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": prompt}},
			},
		},
		"generationConfig": map[string]any{
			"temperature":     0.2,
			"maxOutputTokens": 50,
			"topP":            0.8,
			"topK":            10,
		},
	}

	body, err := v.post(ctx, url, payload)
	if err != nil {
		return "", err
	}

	var res struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", &EstimationError{Method: MethodRemoteModel, Message: "invalid model response", Err: err}
	}
	if len(res.Candidates) == 0 || len(res.Candidates[0].Content.Parts) == 0 {
		return "", &EstimationError{Method: MethodRemoteModel, Message: "empty model response"}
	}
	return res.Candidates[0].Content.Parts[0].Text, nil
}

func (v *VertexEstimator) predictText(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		v.baseURL(), v.ProjectID, v.Location, v.Model)

	payload := map[string]any{
		"instances": []map[string]any{{"prompt": prompt}},
		"parameters": map[string]any{
			"temperature":     0.2,
			"maxOutputTokens": 10,
			"topP":            0.8,
			"topK":            10,
		},
	}

	body, err := v.post(ctx, url, payload)
	if err != nil {
		return "", err
	}

	var res struct {
		Predictions []struct {
			Content string `json:"content"`
		} `json:"predictions"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", &EstimationError{Method: MethodRemoteModel, Message: "invalid model response", Err: err}
	}
	if len(res.Predictions) == 0 || res.Predictions[0].Content == "" {
		return "", &EstimationError{Method: MethodRemoteModel, Message: "empty model response"}
	}
	return res.Predictions[0].Content, nil
}

// predictStructured posts the feature set to a deployed custom endpoint
// and reads a structured prediction object. The remote confidence, when
// present, passes through clamped to [0,1] only.
func (v *VertexEstimator) predictStructured(ctx context.Context, t models.Ticket) (models.Estimate, error) {
	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/endpoints/%s:predict",
		v.baseURL(), v.ProjectID, v.Location, v.EndpointID)

	f := ticket.RenderFeatures(t)
	payload := map[string]any{
		"instances": []map[string]any{{
			"subject":        f.Subject,
			"description":    f.Description,
			"ticket_type":    f.Type,
			"channel":        f.Channel,
			"company_name":   f.Company,
			"messages_count": f.MessagesCount,
			"updates_count":  f.UpdatesCount,
			"combined_text":  f.CombinedText,
			"text_length":    f.CombinedLength,
		}},
	}

	body, err := v.post(ctx, url, payload)
	if err != nil {
		return models.Estimate{}, err
	}

	var res struct {
		Predictions []map[string]any `json:"predictions"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return models.Estimate{}, &EstimationError{Method: MethodRemoteModel, Message: "invalid prediction response", Err: err}
	}
	if len(res.Predictions) == 0 {
		return models.Estimate{}, &EstimationError{Method: MethodRemoteModel, Message: "no predictions returned"}
	}

	prediction := res.Predictions[0]
	minutes, ok := numberField(prediction, "predicted_minutes", "prediction", "value")
	if !ok {
		return models.Estimate{}, &EstimationError{Method: MethodRemoteModel, Message: "prediction object has no minutes field"}
	}

	var confidence *float64
	if c, ok := numberField(prediction, "confidence", "probability"); ok {
		confidence = &c
	}

	diagnostics := map[string]any{
		"endpoint_id":  v.EndpointID,
		"raw_response": prediction,
	}
	return Finalize(t.ID, int(minutes), confidence, MethodRemoteModel, diagnostics), nil
}

func (v *VertexEstimator) post(ctx context.Context, url string, payload any) ([]byte, error) {
	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(v.AccessToken) != "" {
		req.Header.Set("Authorization", "Bearer "+v.AccessToken)
	}

	client := v.Client
	if client == nil {
		timeout := v.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
				timeout = remaining
			}
		}
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &EstimationError{Method: MethodRemoteModel, Message: "model request timed out"}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &EstimationError{Method: MethodRemoteModel, Message: "model request timed out"}
		}
		return nil, &EstimationError{Method: MethodRemoteModel, Message: "model request failed", Err: err}
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &EstimationError{
			Method:  MethodRemoteModel,
			Message: fmt.Sprintf("model http error: %s", resp.Status),
		}
	}
	return buf.Bytes(), nil
}

var firstIntegerRe = regexp.MustCompile(`\d+`)

// ExtractMinutes pulls the first integer found anywhere in the model's
// free-text response. When there is none, the lowercased text is
// sniffed for complexity keywords before the 60-minute default. The
// returned value is not yet clamped.
func ExtractMinutes(response string) (int, string) {
	if match := firstIntegerRe.FindString(response); match != "" {
		if minutes, err := strconv.Atoi(match); err == nil {
			return minutes, "integer"
		}
	}

	lowered := strings.ToLower(response)
	switch {
	case strings.Contains(lowered, "molto complesso"), strings.Contains(lowered, "difficile"):
		return 120, "keyword"
	case strings.Contains(lowered, "semplice"), strings.Contains(lowered, "facile"):
		return 30, "keyword"
	default:
		return 60, "default"
	}
}

func numberField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch n := v.(type) {
			case float64:
				return n, true
			case int:
				return float64(n), true
			case string:
				if f, err := strconv.ParseFloat(n, 64); err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}
