package bridge

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

// Sentinel errors for remote pipeline failures.
var (
	ErrPipelineUnreachable = errors.New("processing service unreachable")
	ErrPipelineTimeout     = errors.New("processing service timeout")
	ErrPipelineStatus      = errors.New("processing service error")
	ErrInvalidStatus       = errors.New("processing service returned invalid response")
)

// Remote job states reported by the pipeline's status endpoint.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateError      = "error"
	StateCancelled  = "cancelled"
)

// Status is one observation of a remote job.
type Status struct {
	State    string          `json:"status"`
	Stage    string          `json:"stage"`
	Progress int             `json:"progress"`
	Message  string          `json:"message"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Client is the interface for the remote document-processing pipeline. It
// only exposes pull semantics; the Bridge turns them into push events.
type Client interface {
	Submit(ctx context.Context, name string, data []byte) (string, error)
	Status(ctx context.Context, remoteID string) (Status, error)
	Cancel(ctx context.Context, remoteID string) error
}

// HTTPClient implements Client against the pipeline's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a pipeline client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Submit uploads the document and returns the remote job identifier.
func (c *HTTPClient) Submit(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("document", name)
	if err != nil {
		return "", fmt.Errorf("building submit form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("building submit form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building submit form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", &body)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%w: status %d", ErrPipelineStatus, resp.StatusCode)
	}

	var submitted struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	if submitted.ID == "" {
		return "", fmt.Errorf("%w: submit response missing job id", ErrInvalidStatus)
	}
	return submitted.ID, nil
}

// Status fetches the current state of a remote job.
func (c *HTTPClient) Status(ctx context.Context, remoteID string) (Status, error) {
	u := fmt.Sprintf("%s/v1/jobs/%s", c.baseURL, remoteID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Status{}, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Status{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("%w: status %d", ErrPipelineStatus, resp.StatusCode)
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	if st.State == "" {
		return Status{}, fmt.Errorf("%w: missing status field", ErrInvalidStatus)
	}
	return st, nil
}

// Cancel forwards a cancellation request for the remote job.
func (c *HTTPClient) Cancel(ctx context.Context, remoteID string) error {
	u := fmt.Sprintf("%s/v1/jobs/%s/cancel", c.baseURL, remoteID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: status %d", ErrPipelineStatus, resp.StatusCode)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrPipelineTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrPipelineTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrPipelineUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
