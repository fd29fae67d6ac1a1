// Package solver implements the client for the external challenge-solving
// proxy (FlareSolverr wire protocol).
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

// Config controls the solver client.
type Config struct {
	BaseURL        string
	DefaultTimeout time.Duration
}

// Client talks to the solver's HTTP API. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
	}
}

type solveRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int64  `json:"maxTimeout"`
}

type solveResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL       string         `json:"url"`
		Status    int            `json:"status"`
		Response  string         `json:"response"`
		Cookies   []fetch.Cookie `json:"cookies"`
		UserAgent string         `json:"userAgent"`
	} `json:"solution"`
}

// Solve asks the solver to pass the challenge for url in one round trip.
// A non-ok solver status maps to fetch.ErrChallengeUnsolved; transport
// failures surface as plain errors so callers can tell the two apart.
func (c *Client) Solve(ctx context.Context, url string, timeout time.Duration) (fetch.Solution, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	payload := solveRequest{
		Cmd:        "request.get",
		URL:        url,
		MaxTimeout: timeout.Milliseconds(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fetch.Solution{}, fmt.Errorf("encode solve request: %w", err)
	}

	// The solver needs the whole navigation budget plus API overhead.
	reqCtx, cancel := context.WithTimeout(ctx, timeout+30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fetch.Solution{}, fmt.Errorf("build solve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fetch.Solution{}, fmt.Errorf("solver request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fetch.Solution{}, fmt.Errorf("solver returned HTTP %d", resp.StatusCode)
	}

	var decoded solveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fetch.Solution{}, fmt.Errorf("decode solver response: %w", err)
	}
	if decoded.Status != "ok" {
		return fetch.Solution{}, fmt.Errorf("%w: %s", fetch.ErrChallengeUnsolved, decoded.Message)
	}

	c.logger.Info("challenge solved",
		zap.String("url", url),
		zap.Int("status_code", decoded.Solution.Status),
		zap.Int("cookies", len(decoded.Solution.Cookies)),
		zap.Duration("took", time.Since(start)),
	)

	return fetch.Solution{
		StatusCode: decoded.Solution.Status,
		HTML:       decoded.Solution.Response,
		Cookies:    decoded.Solution.Cookies,
		UserAgent:  decoded.Solution.UserAgent,
	}, nil
}

// Health reports whether the solver service is up and answering.
func (c *Client) Health(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.base(), nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("solver health check failed", zap.Error(err))
		return fmt.Errorf("solver unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solver health returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.cfg.BaseURL, "/")
}

func (c *Client) endpoint() string {
	return c.base() + "/v1"
}
