package cli

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
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// LockStatus — состояние блокировки лидера.
type LockStatus struct {
	HolderID string `json:"holderId"`
	IsHeld   bool   `json:"isHeld"`
}

// SchedulerStatus — статус scheduler из API.
type SchedulerStatus struct {
	IsRunning            bool       `json:"isRunning"`
	State                string     `json:"state"`
	LastTickTime         *time.Time `json:"lastTickTime"`
	ConsecutiveErrors    int        `json:"consecutiveErrors"`
	MaxConsecutiveErrors int        `json:"maxConsecutiveErrors"`
	PollIntervalMinutes  float64    `json:"pollIntervalMinutes"`
	IsDisabled           bool       `json:"isDisabled"`
	Lock                 LockStatus `json:"lock"`
}

// RunSearchResponse — результат ручного запуска поиска.
type RunSearchResponse struct {
	MessageID    string    `json:"messageId"`
	SearchID     string    `json:"searchId"`
	UserID       string    `json:"userId"`
	ScheduleType string    `json:"scheduleType"`
	QueuedAt     time.Time `json:"queuedAt"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound сообщает, что API вернул 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// --- Client ---

// Client — HTTP-клиент для API worker'а.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SchedulerStatus возвращает статус scheduler.
func (c *Client) SchedulerStatus(ctx context.Context) (*SchedulerStatus, error) {
	var status SchedulerStatus
	err := c.doData(ctx, http.MethodGet, "/api/v1/scheduler/status", nil, &status)
	return &status, err
}

// RunSearch ставит manual job для поиска в очередь.
func (c *Client) RunSearch(ctx context.Context, searchID string) (*RunSearchResponse, error) {
	var resp RunSearchResponse
	path := "/api/v1/searches/" + url.PathEscape(searchID) + "/run"
	err := c.doData(ctx, http.MethodPost, path, nil, &resp)
	return &resp, err
}

// --- HTTP helpers ---

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
