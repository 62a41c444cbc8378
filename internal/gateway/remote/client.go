package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradegate/internal/decision"
	"tradegate/internal/pkg/text"
)

const maxErrorSnippet = 512

// Config 描述交易后端：agent 决策、组合快照与成交执行都由它提供。
type Config struct {
	BaseURL        string
	APIToken       string
	TimeoutSeconds int
}

// Client wraps the trading backend REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("backend.url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend.url: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		token:      strings.TrimSpace(cfg.APIToken),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Portfolio implements engine.PortfolioSource.
func (c *Client) Portfolio(ctx context.Context, agentID string) (decision.Portfolio, error) {
	var p decision.Portfolio
	if err := c.doJSON(ctx, http.MethodGet, agentPath(agentID, "portfolio"), nil, &p); err != nil {
		return decision.Portfolio{}, err
	}
	return p, nil
}

// Execute implements engine.Executor.
func (c *Client) Execute(ctx context.Context, agentID string, d decision.Decision) error {
	return c.doJSON(ctx, http.MethodPost, agentPath(agentID, "trades"), d, nil)
}

// decide 返回 agent 的原始输出（通常是模型文本），由调用方宽松解析。
func (c *Client) decide(ctx context.Context, agentID string, p decision.Portfolio) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, agentPath(agentID, "decide"), p)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read decide response: %w", err)
	}
	return string(data), nil
}

func agentPath(agentID, action string) string {
	return "/agents/" + url.PathEscape(strings.TrimSpace(agentID)) + "/" + action
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}

// do 返回 2xx 响应，调用方负责关闭 Body；非 2xx 时带上响应体片段作为错误。
func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	if c == nil || c.baseURL == nil {
		return nil, fmt.Errorf("backend client not initialized")
	}
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + path
	endpoint.RawPath = ""

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call backend %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(data) == 0 {
			return nil, fmt.Errorf("backend %s %s: %s", method, path, resp.Status)
		}
		return nil, fmt.Errorf("backend %s %s (%s): %s", method, path, resp.Status, text.Truncate(strings.TrimSpace(string(data)), maxErrorSnippet))
	}
	return resp, nil
}
