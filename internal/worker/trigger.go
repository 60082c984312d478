package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manga-tracker/internal/types"
)

// Trigger runs one sync of a source and reports its outcome
type Trigger interface {
	Trigger(ctx context.Context, sourceID int64, full bool) (*SyncResult, error)
}

// TriggerPath is the route the trigger server exposes; {sourceId} is substituted
const TriggerPath = "/sync/source/{sourceId}/trigger"

// TriggerRequest is the optional body of a trigger call
type TriggerRequest struct {
	Full bool `json:"full"`
}

// TriggerResponse is the body returned by the trigger endpoint
type TriggerResponse struct {
	Status         types.SyncStatus `json:"status"`
	SeriesSynced   int              `json:"seriesSynced"`
	ChaptersSynced int              `json:"chaptersSynced"`
	ItemErrors     int              `json:"itemErrors"`
	Error          string           `json:"error,omitempty"`
}

// NewTriggerResponse converts an engine result into the wire shape
func NewTriggerResponse(r *SyncResult) TriggerResponse {
	return TriggerResponse{
		Status:         r.Status,
		SeriesSynced:   r.SeriesSynced,
		ChaptersSynced: r.ChaptersSynced,
		ItemErrors:     r.ItemErrors,
		Error:          r.Error,
	}
}

// EngineTrigger calls an in-process engine
type EngineTrigger struct {
	engine *Engine
}

// NewEngineTrigger creates a trigger backed by engine
func NewEngineTrigger(engine *Engine) *EngineTrigger {
	return &EngineTrigger{engine: engine}
}

// Trigger waits for the engine to run the job
func (t *EngineTrigger) Trigger(ctx context.Context, sourceID int64, full bool) (*SyncResult, error) {
	return t.engine.Run(ctx, sourceID, full)
}

// HTTPTrigger calls a remote trigger server with a bearer secret
type HTTPTrigger struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewHTTPTrigger creates a trigger that POSTs to baseURL
func NewHTTPTrigger(baseURL, secret string, timeout time.Duration) (*HTTPTrigger, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("trigger base url is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("trigger secret is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPTrigger{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Trigger POSTs to the remote endpoint. Non-2xx responses are errors.
func (t *HTTPTrigger) Trigger(ctx context.Context, sourceID int64, full bool) (*SyncResult, error) {
	payload, err := json.Marshal(TriggerRequest{Full: full})
	if err != nil {
		return nil, fmt.Errorf("failed to encode trigger request: %w", err)
	}

	path := strings.Replace(TriggerPath, "{sourceId}", fmt.Sprintf("%d", sourceID), 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.secret)

	startedAt := time.Now().UTC()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trigger source %d: %w", sourceID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("trigger source %d: read response: %w", sourceID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("trigger source %d: status %d: %s", sourceID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out TriggerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("trigger source %d: decode response: %w", sourceID, err)
	}
	if !out.Status.IsValid() {
		return nil, fmt.Errorf("trigger source %d: unexpected status %q", sourceID, out.Status)
	}

	return &SyncResult{
		SourceID:       sourceID,
		Status:         out.Status,
		SeriesSynced:   out.SeriesSynced,
		ChaptersSynced: out.ChaptersSynced,
		ItemErrors:     out.ItemErrors,
		Error:          out.Error,
		StartedAt:      startedAt,
		CompletedAt:    time.Now().UTC(),
	}, nil
}
