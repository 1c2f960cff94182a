package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lookbook/internal/infra"
	"lookbook/pkg/hs256"
)

// ErrMissingCredentials indicates that the client was configured without an access/secret pair.
var ErrMissingCredentials = errors.New("kling: access key and secret key are required")

const (
	defaultBaseURL = "https://api-singapore.klingai.com"
	tokenLifetime  = 30 * time.Minute
	tokenLeeway    = 5 * time.Second
	maxErrorBody   = 4 << 10
)

// Options configures the Kling client.
type Options struct {
	AccessKey      string
	SecretKey      string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Client submits tasks to the Kling image API and reads their status. It keeps
// no per-task state, so one instance is shared by every request.
type Client struct {
	accessKey  string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	now        func() time.Time
}

// Endpoint names the submit and status paths of one remote workflow.
type Endpoint struct {
	Name       string
	SubmitPath string
	StatusPath string
}

var (
	Stylize = Endpoint{Name: "stylize", SubmitPath: "/v1/images/generations", StatusPath: "/v1/images/generations"}
	TryOn   = Endpoint{Name: "tryon", SubmitPath: "/v1/images/kolors-virtual-try-on", StatusPath: "/v1/images/kolors-virtual-try-on"}
)

// APIError is returned when the remote answers with a non-2xx status or a
// non-zero business code.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("kling: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("kling: status %d: %s", e.StatusCode, e.Body)
}

// TaskStatus is the normalized status document for one task.
type TaskStatus struct {
	TaskID  string
	Status  string
	Message string
	URL     string
}

func (s *TaskStatus) Succeeded() bool {
	return s.Status == "succeed" || s.Status == "succeeded"
}

func (s *TaskStatus) Failed() bool {
	return s.Status == "failed"
}

type envelope struct {
	Code      int      `json:"code"`
	Message   string   `json:"message"`
	RequestID string   `json:"request_id"`
	Data      taskData `json:"data"`
}

type taskData struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg"`
	TaskResult    struct {
		Images []struct {
			Index int    `json:"index"`
			URL   string `json:"url"`
		} `json:"images"`
		URL string `json:"url"`
	} `json:"task_result"`
	URL string `json:"url"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		accessKey:  strings.TrimSpace(opts.AccessKey),
		secretKey:  strings.TrimSpace(opts.SecretKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
		now:        now,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.accessKey != "" && c.secretKey != ""
}

// Token mints a short-lived bearer token. A new one is minted for every call.
func (c *Client) Token() (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingCredentials
	}
	now := c.now()
	return hs256.Sign(c.secretKey, hs256.Claims{
		Issuer:    c.accessKey,
		ExpiresAt: now.Add(tokenLifetime).Unix(),
		NotBefore: now.Add(-tokenLeeway).Unix(),
	})
}

// Submit posts body to the endpoint and returns the remote task id.
func (c *Client) Submit(ctx context.Context, ep Endpoint, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("kling: encode request: %w", err)
	}
	decoded, err := c.do(ctx, http.MethodPost, c.baseURL+ep.SubmitPath, payload)
	if err != nil {
		return "", err
	}
	taskID := strings.TrimSpace(decoded.Data.TaskID)
	if taskID == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "response carried no task_id"}
	}
	c.logger.Debug().
		Str("stage", ep.Name).
		Str("task_id", taskID).
		Str("request_id", decoded.RequestID).
		Msg("kling: task submitted")
	return taskID, nil
}

// Status fetches the current status of taskID.
func (c *Client) Status(ctx context.Context, ep Endpoint, taskID string) (*TaskStatus, error) {
	endpoint := c.baseURL + ep.StatusPath + "/" + url.PathEscape(taskID)
	decoded, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	status := &TaskStatus{
		TaskID:  decoded.Data.TaskID,
		Status:  strings.ToLower(strings.TrimSpace(decoded.Data.TaskStatus)),
		Message: decoded.Data.TaskStatusMsg,
		URL:     resultURL(decoded.Data),
	}
	if status.TaskID == "" {
		status.TaskID = taskID
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*envelope, error) {
	token, err := c.Token()
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("kling: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kling: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kling: read response: %w", err)
	}

	var decoded envelope
	decodeErr := json.Unmarshal(raw, &decoded)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: truncate(raw)}
		if decodeErr == nil {
			apiErr.Code, apiErr.Message = decoded.Code, decoded.Message
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("kling: decode response: %w", decodeErr)
	}
	if decoded.Code != 0 {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: decoded.Code, Message: decoded.Message, Body: truncate(raw)}
	}
	return &decoded, nil
}

func resultURL(d taskData) string {
	for _, img := range d.TaskResult.Images {
		if u := strings.TrimSpace(img.URL); u != "" {
			return u
		}
	}
	if u := strings.TrimSpace(d.TaskResult.URL); u != "" {
		return u
	}
	return strings.TrimSpace(d.URL)
}

func truncate(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
