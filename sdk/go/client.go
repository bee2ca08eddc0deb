package truckdashsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is a minimal truck dashboard HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	mu          sync.RWMutex
	bearerToken string
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Truck represents a truck record as served by /api/trucks.
type Truck struct {
	ID                string  `json:"id"`
	Terminal          string  `json:"terminal"`
	TruckNo           string  `json:"truck_no"`
	DockCode          string  `json:"dock_code"`
	TruckRoute        string  `json:"truck_route"`
	PreparationStart  *string `json:"preparation_start,omitempty"`
	PreparationEnd    *string `json:"preparation_end,omitempty"`
	LoadingStart      *string `json:"loading_start,omitempty"`
	LoadingEnd        *string `json:"loading_end,omitempty"`
	StatusPreparation string  `json:"status_preparation"`
	StatusLoading     string  `json:"status_loading"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         *string `json:"updated_at,omitempty"`
}

// TruckInput is the create payload.
type TruckInput struct {
	Terminal          string  `json:"terminal"`
	TruckNo           string  `json:"truck_no"`
	DockCode          string  `json:"dock_code"`
	TruckRoute        string  `json:"truck_route"`
	PreparationStart  *string `json:"preparation_start,omitempty"`
	PreparationEnd    *string `json:"preparation_end,omitempty"`
	LoadingStart      *string `json:"loading_start,omitempty"`
	LoadingEnd        *string `json:"loading_end,omitempty"`
	StatusPreparation string  `json:"status_preparation,omitempty"`
	StatusLoading     string  `json:"status_loading,omitempty"`
}

// TruckUpdate is the partial update payload; nil fields are left untouched.
type TruckUpdate struct {
	Terminal          *string `json:"terminal,omitempty"`
	TruckNo           *string `json:"truck_no,omitempty"`
	DockCode          *string `json:"dock_code,omitempty"`
	TruckRoute        *string `json:"truck_route,omitempty"`
	PreparationStart  *string `json:"preparation_start,omitempty"`
	PreparationEnd    *string `json:"preparation_end,omitempty"`
	LoadingStart      *string `json:"loading_start,omitempty"`
	LoadingEnd        *string `json:"loading_end,omitempty"`
	StatusPreparation *string `json:"status_preparation,omitempty"`
	StatusLoading     *string `json:"status_loading,omitempty"`
}

// Stats is the server-computed aggregate snapshot.
type Stats struct {
	TotalTrucks      int            `json:"total_trucks"`
	PreparationStats map[string]int `json:"preparation_stats"`
	LoadingStats     map[string]int `json:"loading_stats"`
	TerminalStats    map[string]int `json:"terminal_stats"`
	LastUpdated      string         `json:"last_updated,omitempty"`
}

// ZeroStats returns the default snapshot shape used when no stats are known.
func ZeroStats() Stats {
	return Stats{
		PreparationStats: map[string]int{"On Process": 0, "Delay": 0, "Finished": 0},
		LoadingStats:     map[string]int{"On Process": 0, "Delay": 0, "Finished": 0},
		TerminalStats:    map[string]int{},
	}
}

// Clone returns a deep copy.
func (s Stats) Clone() Stats {
	out := s
	out.PreparationStats = cloneCounts(s.PreparationStats)
	out.LoadingStats = cloneCounts(s.LoadingStats)
	out.TerminalStats = cloneCounts(s.TerminalStats)
	return out
}

func cloneCounts(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Token is the login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
}

// User is the profile returned by /api/auth/me.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Health is the backend liveness payload.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Detail returns the backend's human-readable reason ({"detail": "..."}), or
// the raw body when it has none.
func (e *APIError) Detail() string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal([]byte(e.Body), &payload); err == nil {
		switch d := payload.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
	}
	return e.Body
}

// SetBearerToken installs (or, with "", removes) the default credential sent on every request.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	c.bearerToken = token
	c.mu.Unlock()
}

// BearerToken returns the current default credential.
func (c *Client) BearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearerToken
}

// Login exchanges form-encoded credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	var resp Token
	err := c.send(ctx, http.MethodPost, "api/auth/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &resp)
	return resp, err
}

// Me returns the profile of the current credential.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "api/auth/me", nil, &resp)
	return resp, err
}

// ListTrucks returns trucks matching the query.
func (c *Client) ListTrucks(ctx context.Context, query url.Values) ([]Truck, error) {
	var resp []Truck
	err := c.do(ctx, http.MethodGet, withQuery("api/trucks", query), nil, &resp)
	return resp, err
}

// GetTruck fetches a truck by id.
func (c *Client) GetTruck(ctx context.Context, id string) (Truck, error) {
	var resp Truck
	err := c.do(ctx, http.MethodGet, truckPath(id), nil, &resp)
	return resp, err
}

// CreateTruck creates a truck.
func (c *Client) CreateTruck(ctx context.Context, in TruckInput) (Truck, error) {
	var resp Truck
	err := c.do(ctx, http.MethodPost, "api/trucks", in, &resp)
	return resp, err
}

// UpdateTruck applies a partial update.
func (c *Client) UpdateTruck(ctx context.Context, id string, in TruckUpdate) (Truck, error) {
	var resp Truck
	err := c.do(ctx, http.MethodPut, truckPath(id), in, &resp)
	return resp, err
}

// DeleteTruck deletes a truck.
func (c *Client) DeleteTruck(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, truckPath(id), nil, nil)
}

// UpdateStatus sets one status dimension ("preparation" or "loading") of a truck.
func (c *Client) UpdateStatus(ctx context.Context, id, statusType, status string) (Truck, error) {
	q := url.Values{}
	q.Set("status_type", statusType)
	q.Set("status", status)
	var resp Truck
	err := c.do(ctx, http.MethodPatch, withQuery(truckPath(id)+"/status", q), nil, &resp)
	return resp, err
}

// Stats returns the aggregate snapshot for the query.
func (c *Client) Stats(ctx context.Context, query url.Values) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, withQuery("api/stats", query), nil, &resp)
	return resp, err
}

// Health probes the backend.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", &buf, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if token := c.BearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func truckPath(id string) string {
	return fmt.Sprintf("api/trucks/%s", url.PathEscape(id))
}

func withQuery(endpoint string, query url.Values) string {
	if len(query) == 0 {
		return endpoint
	}
	return endpoint + "?" + query.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
