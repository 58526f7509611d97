package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for assistant API failures. The runner maps these onto the
// user-visible error messages.
var (
	ErrMissingAPIKey   = errors.New("openai api key not configured")
	ErrUnauthorized    = errors.New("openai rejected credentials")
	ErrRateLimited     = errors.New("openai rate limited")
	ErrTimeout         = errors.New("openai request timeout")
	ErrUnreachable     = errors.New("openai unreachable")
	ErrInvalidResponse = errors.New("openai returned invalid response")
)

// Run statuses reported by the assistant API.
const (
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
	RunStatusCancelled  = "cancelled"
	RunStatusExpired    = "expired"
)

// Run identifies an assistant run and its thread.
type Run struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

// Client is the interface for the assistant API used by the direct-AI job
// runner.
type Client interface {
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	CreateRun(ctx context.Context, fileID string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	GetRunResult(ctx context.Context, threadID string) (json.RawMessage, error)
	CancelRun(ctx context.Context, threadID, runID string) error
}

// HTTPClient implements Client against the OpenAI assistants HTTP API.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	assistantID string
	client      *http.Client
}

// NewHTTPClient creates an assistant client. An empty apiKey is allowed at
// construction time; calls will fail with ErrMissingAPIKey so the job
// surfaces a configuration error instead of the server refusing to start.
func NewHTTPClient(baseURL, apiKey, assistantID string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &HTTPClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		assistantID: assistantID,
		client:      &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", &body)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var file struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &file); err != nil {
		return "", err
	}
	if file.ID == "" {
		return "", fmt.Errorf("%w: upload response missing file id", ErrInvalidResponse)
	}
	return file.ID, nil
}

func (c *HTTPClient) CreateRun(ctx context.Context, fileID string) (Run, error) {
	if c.apiKey == "" {
		return Run{}, ErrMissingAPIKey
	}

	payload := map[string]any{
		"assistant_id": c.assistantID,
		"thread": map[string]any{
			"messages": []map[string]any{
				{
					"role":    "user",
					"content": "Extract the structured data from the attached document.",
					"attachments": []map[string]any{
						{"file_id": fileID, "tools": []map[string]string{{"type": "file_search"}}},
					},
				},
			},
		},
	}

	req, err := c.jsonRequest(ctx, http.MethodPost, "/v1/threads/runs", payload)
	if err != nil {
		return Run{}, err
	}

	var run Run
	if err := c.do(req, &run); err != nil {
		return Run{}, err
	}
	if run.ID == "" || run.ThreadID == "" {
		return Run{}, fmt.Errorf("%w: run response missing identifiers", ErrInvalidResponse)
	}
	return run, nil
}

func (c *HTTPClient) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	if c.apiKey == "" {
		return Run{}, ErrMissingAPIKey
	}

	path := fmt.Sprintf("/v1/threads/%s/runs/%s", threadID, runID)
	req, err := c.jsonRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Run{}, err
	}

	var run Run
	if err := c.do(req, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRunResult fetches the assistant's reply for the thread: the first
// message's first text block, which the assistant is instructed to emit as a
// single JSON document.
func (c *HTTPClient) GetRunResult(ctx context.Context, threadID string) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	path := fmt.Sprintf("/v1/threads/%s/messages?order=desc&limit=1", threadID)
	req, err := c.jsonRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var messages struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := c.do(req, &messages); err != nil {
		return nil, err
	}

	for _, msg := range messages.Data {
		if msg.Role != "assistant" {
			continue
		}
		for _, block := range msg.Content {
			if block.Type != "text" || block.Text.Value == "" {
				continue
			}
			raw := json.RawMessage(block.Text.Value)
			if !json.Valid(raw) {
				return nil, fmt.Errorf("%w: assistant reply is not valid JSON", ErrInvalidResponse)
			}
			return raw, nil
		}
	}
	return nil, fmt.Errorf("%w: no assistant message in thread", ErrInvalidResponse)
}

func (c *HTTPClient) CancelRun(ctx context.Context, threadID, runID string) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	path := fmt.Sprintf("/v1/threads/%s/runs/%s/cancel", threadID, runID)
	req, err := c.jsonRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, &struct{}{})
}

func (c *HTTPClient) jsonRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes the request with auth headers and decodes a 2xx JSON body into
// out. Non-2xx statuses map onto the package sentinels.
func (c *HTTPClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
