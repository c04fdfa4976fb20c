// Package cloud talks to the printer vendor's cloud API for account
// devices and print task history.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eddielth/bambu-status/config"
	"github.com/eddielth/bambu-status/logger"
)

const (
	globalBaseURL = "https://api.bambulab.com"
	chinaBaseURL  = "https://api.bambulab.cn"

	loginPath   = "/v1/user-service/user/login"
	devicesPath = "/v1/iot-service/api/user/bind"
	tasksPath   = "/v1/user-service/my/tasks"

	requestTimeout = 10 * time.Second
	// covers are small PNGs; anything larger is refused
	maxCoverBytes = 16 << 20
)

// BaseURL returns the API host for a region
func BaseURL(region string) string {
	if strings.EqualFold(region, "China") {
		return chinaBaseURL
	}
	return globalBaseURL
}

// Device is a printer bound to the account
type Device struct {
	DevID        string `json:"dev_id"`
	Name         string `json:"name"`
	Online       bool   `json:"online"`
	PrintStatus  string `json:"print_status"`
	DevModelName string `json:"dev_model_name"`
}

// Task is one entry of the account's print history
type Task struct {
	ID          json.Number `json:"id"`
	DeviceID    string      `json:"deviceId"`
	DesignTitle string      `json:"designTitle"`
	Title       string      `json:"title"`
	Cover       string      `json:"cover"`
	Weight      json.Number `json:"weight"`
	CostTime    json.Number `json:"costTime"`
}

// APIError is returned for non-2xx responses
type APIError struct {
	Op         string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed with status code %d", e.Op, e.StatusCode)
}

// Client is an authenticated API client. It logs in on first use.
type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewClient builds a client from the cloud configuration
func NewClient(cfg config.CloudConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseURL(cfg.Region)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      cfg.Email,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Login exchanges the account credentials for an access token
func (c *Client) Login(ctx context.Context) error {
	logger.Info("getting access token from cloud")

	body, err := json.Marshal(map[string]string{"account": c.email, "password": c.password})
	if err != nil {
		return err
	}

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.do(ctx, "authentication", http.MethodPost, loginPath, "", bytes.NewReader(body), &resp); err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("authentication response carried no access token")
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.mu.Unlock()

	logger.Info("authentication successful")
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	if err := c.Login(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

// Devices lists the printers bound to the account
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := c.do(ctx, "device list", http.MethodGet, devicesPath, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// Tasks returns the account's print history, newest first
func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Hits []Task `json:"hits"`
	}
	if err := c.do(ctx, "task list", http.MethodGet, tasksPath, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

// LatestTask returns the newest task printed on deviceID, or nil
func (c *Client) LatestTask(ctx context.Context, deviceID string) (*Task, error) {
	tasks, err := c.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].DeviceID == deviceID {
			return &tasks[i], nil
		}
	}
	return nil, nil
}

// Download fetches an unauthenticated resource such as a cover image
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Op: "download", StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &APIError{Op: op, StatusCode: resp.StatusCode}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
