// Package client talks to the worksheet API: it opens generation streams and
// loads persisted worksheets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"oa-worksheets/internal/config"
	"oa-worksheets/internal/model"
	"oa-worksheets/internal/utils"
	"oa-worksheets/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrRequestFailed  = errors.New("worksheet api request failed")
	ErrDecodeResponse = errors.New("failed to decode worksheet api response")
)

// StatusError is returned for non-2xx responses. It matches ErrRequestFailed.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrRequestFailed }

const maxErrorBody = 2048

type Client struct {
	baseURL       string
	generatePath  string
	worksheetPath string

	// stream has no overall timeout; the stream decoder bounds the body.
	stream *http.Client
	http   *http.Client
}

// New builds a client from the api section of the configuration.
func New(cfg config.APIConfig) *Client {
	rt := newHeaderTransport(
		utils.NewDebugTransport(nil, "worksheet-api", cfg.DebugRequests),
		cfg.AuthToken, cfg.SessionCookie, cfg.CSRFToken,
	)
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		generatePath:  cfg.GeneratePath,
		worksheetPath: cfg.WorksheetPath,
		stream:        utils.NewHTTPClient(0, rt),
		http:          utils.NewHTTPClient(cfg.RequestTimeout, rt),
	}
}

// Generate posts req and returns the streamed response body. The caller owns
// the body.
func (c *Client) Generate(ctx context.Context, req model.GenerateRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + c.generatePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetWorksheet loads one persisted SchemaVersion.
func (c *Client) GetWorksheet(ctx context.Context, id int64) (*model.SchemaVersion, error) {
	path := strings.ReplaceAll(c.worksheetPath, "{id}", strconv.FormatInt(id, 10))
	url := c.baseURL + path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var v model.SchemaVersion
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeResponse, err)
	}
	return &v, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(body))
	var apiErr model.ErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}
	return &StatusError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       msg,
	}
}

// headerTransport adds the collaborator credentials and a request id to every
// outbound request.
type headerTransport struct {
	base      http.RoundTripper
	authToken string
	cookie    string
	csrfToken string
}

func newHeaderTransport(base http.RoundTripper, authToken, cookie, csrfToken string) *headerTransport {
	return &headerTransport{base: base, authToken: authToken, cookie: cookie, csrfToken: csrfToken}
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}
	if t.cookie != "" {
		req.Header.Set("Cookie", t.cookie)
	}
	if t.csrfToken != "" && req.Method != http.MethodGet && req.Method != http.MethodHead {
		req.Header.Set("X-CSRFToken", t.csrfToken)
	}
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err == nil {
		logger.Debugf("%s %s -> %d (%s)", req.Method, req.URL.Path, resp.StatusCode, time.Since(start))
	}
	return resp, err
}
