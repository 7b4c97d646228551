package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:5000"
	defaultTimeout = 60 * time.Second
)

// ErrConnectivity wraps every failure to reach the backend at all.
var ErrConnectivity = errors.New("cannot reach the analysis server")

// APIError is a non-2xx answer. Message is the server's own error text.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %s error %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Client talks to the ML/OCR backend. Every call returns the network
// timings of its request next to the decoded answer.
type Client struct {
	client  *TracedClient
	baseURL string
}

// New builds a client for NUTRISCAN_API_URL, or the local default.
func New() *Client {
	return NewClient(os.Getenv("NUTRISCAN_API_URL"))
}

func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client:  NewTracedClient(defaultTimeout),
		baseURL: baseURL,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Warm primes a connection so the first scan does not pay for the handshake.
func (c *Client) Warm(ctx context.Context) time.Duration {
	return c.client.Warm(ctx, c.baseURL+"/")
}

func (c *Client) ScanLabel(ctx context.Context, jpeg []byte) (*LabelResult, *NetworkMetrics, error) {
	var out LabelResult
	m, err := c.postImage(ctx, "/api/scan_label", jpeg, &out)
	if err != nil {
		return nil, m, err
	}
	return &out, m, nil
}

func (c *Client) AIAnalyze(ctx context.Context, jpeg []byte) (*AIResult, *NetworkMetrics, error) {
	var out AIResult
	m, err := c.postImage(ctx, "/api/ai_analyze", jpeg, &out)
	if err != nil {
		return nil, m, err
	}
	if out.Name == "" {
		out.Name = out.FoodName
	}
	return &out, m, nil
}

func (c *Client) PredictDisease(ctx context.Context, p Profile) (*DiseasePrediction, error) {
	var out DiseasePrediction
	if _, err := c.postJSON(ctx, "/food/predict-disease", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchFood accepts both a bare array and a {results: [...]} envelope.
func (c *Client) SearchFood(ctx context.Context, query, category string) ([]FoodRecord, error) {
	q := url.Values{}
	q.Set("query", query)
	if category != "" {
		q.Set("category", category)
	}
	var raw json.RawMessage
	if _, err := c.get(ctx, "/food/search?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	return decodeFoodList(raw)
}

func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var raw json.RawMessage
	if _, err := c.get(ctx, "/food/categories", &raw); err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var env struct {
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("categories response parse error: %w", err)
	}
	return env.Categories, nil
}

func (c *Client) HealthyFoods(ctx context.Context, limit int) ([]FoodRecord, error) {
	path := "/food/healthy"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var raw json.RawMessage
	if _, err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return decodeFoodList(raw)
}

func (c *Client) AnalyzeFood(ctx context.Context, req FoodAnalysisRequest) (*FoodAnalysis, error) {
	var out FoodAnalysis
	if _, err := c.postJSON(ctx, "/food/analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, *NetworkMetrics, error) {
	var out HealthStatus
	m, err := c.get(ctx, "/api/health", &out)
	if err != nil {
		return nil, m, err
	}
	return &out, m, nil
}

func decodeFoodList(raw json.RawMessage) ([]FoodRecord, error) {
	var list []FoodRecord
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var env struct {
		Results []FoodRecord `json:"results"`
		Foods   []FoodRecord `json:"foods"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("food list parse error: %w", err)
	}
	if env.Results != nil {
		return env.Results, nil
	}
	return env.Foods, nil
}

func (c *Client) postImage(ctx context.Context, path string, jpeg []byte, out any) (*NetworkMetrics, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", "capture.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, path, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) (*NetworkMetrics, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, out any) (*NetworkMetrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) (*NetworkMetrics, error) {
	req.Header.Set("Accept", "application/json")
	endpoint := path
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Metrics, &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body, resp.StatusCode),
		}
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return resp.Metrics, fmt.Errorf("%s response parse error: %w", endpoint, err)
	}
	return resp.Metrics, nil
}

// errorMessage extracts the first of error, detail or message from a failed
// response, falling back to the raw body and then the status text. A
// non-string detail (validation error lists) is skipped.
func errorMessage(body []byte, status int) string {
	var e struct {
		Error   string `json:"error"`
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		detail, _ := e.Detail.(string)
		for _, m := range []string{e.Error, detail, e.Message} {
			if m != "" {
				return m
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) < 512 && !strings.HasPrefix(s, "<") {
		return s
	}
	return http.StatusText(status)
}

// IsConnectivity reports whether err means the backend was unreachable.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}
