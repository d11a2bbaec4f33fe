package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jhamman/ingestor/pkg/ecmwf"
)

// Common errors.
var (
	ErrNotFound     = errors.New("archive: not found")
	ErrForbidden    = errors.New("archive: access forbidden")
	ErrUnauthorized = errors.New("archive: unauthorized")
	ErrRateLimited  = errors.New("archive: rate limited")
	ErrServerError  = errors.New("archive: server error")
)

// Request states reported by the Web API.
const (
	StatusQueued   = "queued"
	StatusActive   = "active"
	StatusComplete = "complete"
	StatusAborted  = "aborted"
	StatusFailed   = "failed"
)

// RequestError is returned when the archive accepted a request but could not
// fulfil it.
type RequestError struct {
	Target  string
	Status  string
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("archive: request for %s %s", e.Target, e.Status)
	}
	return fmt.Sprintf("archive: request for %s %s: %s", e.Target, e.Status, e.Message)
}

// Options configures the Web API client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 20
	MaxIdleConnsPerHost int

	// Timeout for individual HTTP calls. Downloads are bounded by the
	// caller's context instead.
	// Default: 60s
	Timeout time.Duration

	// RetryAttempts is the maximum number of retry attempts per HTTP call.
	// Default: 5
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration

	// PollInterval is the wait between status checks when the server sends
	// no Retry-After header.
	// Default: 30s
	PollInterval time.Duration
}

// DefaultOptions returns options suited to the public ECMWF service.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 20,
		Timeout:             60 * time.Second,
		RetryAttempts:       5,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
		PollInterval:        30 * time.Second,
	}
}

// status is the JSON document returned on submission and by each poll.
type status struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Href     string `json:"href"`
	Location string `json:"location"`
	Size     int64  `json:"size"`
	Reason   string `json:"reason"`
	Error    *struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

func (s *status) message() string {
	if s.Error != nil {
		if s.Error.Message != "" {
			return s.Error.Message
		}
		return s.Error.Reason
	}
	return s.Reason
}

// Client retrieves requests from the ECMWF Web API. It implements
// ecmwf.Retriever and is safe for concurrent use.
type Client struct {
	client   *http.Client
	download *http.Client
	creds    Credentials
	opts     Options
}

var _ ecmwf.Retriever = (*Client)(nil)

// NewClient creates a Web API client authenticating with creds.
func NewClient(creds Credentials, opts Options) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		download: &http.Client{Transport: transport},
		creds:    creds,
		opts:     opts,
	}
}

// Retrieve submits req, waits for the archive to complete it and downloads
// the result to req.Target(). The target is written atomically.
func (c *Client) Retrieve(ctx context.Context, req ecmwf.Request) error {
	target := req.Target()
	if target == "" {
		return fmt.Errorf("archive: request has no %s", ecmwf.KeyTarget)
	}

	st, err := c.submit(ctx, req)
	if err != nil {
		return err
	}

	// Release the server-side request however this call ends.
	if href := st.Href; href != "" {
		defer c.cleanup(context.WithoutCancel(ctx), href)
	}

	st, err = c.wait(ctx, st)
	if err != nil {
		return err
	}
	switch st.Status {
	case StatusComplete:
	case StatusAborted, StatusFailed:
		return &RequestError{Target: target, Status: st.Status, Message: st.message()}
	default:
		return fmt.Errorf("archive: request for %s: unexpected status %q", target, st.Status)
	}

	return c.fetch(ctx, st, target)
}

// submitURL returns the endpoint for req: the dataset service when a
// "dataset" option is present, MARS otherwise.
func (c *Client) submitURL(req ecmwf.Request) string {
	base := strings.TrimRight(c.creds.URL, "/")
	if ds := req["dataset"]; ds != "" {
		return fmt.Sprintf("%s/datasets/%s/requests", base, url.PathEscape(ds))
	}
	return base + "/services/mars/requests"
}

func (c *Client) submit(ctx context.Context, req ecmwf.Request) (*status, error) {
	payload := req.Clone()
	delete(payload, ecmwf.KeyTarget)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("archive: encode request: %w", err)
	}

	st, _, err := c.call(ctx, http.MethodPost, c.submitURL(req), body)
	if err != nil {
		return nil, fmt.Errorf("archive: submit %s: %w", req.Target(), err)
	}
	return st, nil
}

// wait polls st.Href until the request leaves the queued and active states.
func (c *Client) wait(ctx context.Context, st *status) (*status, error) {
	var retryAfter time.Duration
	for st.Status == StatusQueued || st.Status == StatusActive {
		if st.Href == "" {
			return nil, errors.New("archive: status has no href to poll")
		}
		if err := sleep(ctx, c.pollDelay(retryAfter)); err != nil {
			return nil, err
		}

		next, header, err := c.call(ctx, http.MethodGet, st.Href, nil)
		if err != nil {
			return nil, fmt.Errorf("archive: poll %s: %w", st.Href, err)
		}
		if next.Href == "" {
			next.Href = st.Href
		}
		st = next
		retryAfter = parseRetryAfter(header.Get("Retry-After"))
	}
	return st, nil
}

func (c *Client) pollDelay(retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	return c.opts.PollInterval
}

// fetch downloads the result of a completed request to target via a
// temporary file in the same directory.
func (c *Client) fetch(ctx context.Context, st *status, target string) error {
	loc, err := c.resolve(st.Location)
	if err != nil {
		return fmt.Errorf("archive: result location: %w", err)
	}

	body, err := c.get(ctx, loc)
	if err != nil {
		return fmt.Errorf("archive: download %s: %w", target, err)
	}
	defer body.Close()

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.part")
	if err != nil {
		return fmt.Errorf("archive: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("archive: download %s: %w", target, err)
	}
	if st.Size > 0 && n != st.Size {
		return fmt.Errorf("archive: download %s: got %d bytes, want %d", target, n, st.Size)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("archive: rename to %s: %w", target, err)
	}
	return nil
}

// resolve makes a possibly relative location absolute against the API URL.
func (c *Client) resolve(loc string) (string, error) {
	if loc == "" {
		return "", errors.New("empty location")
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return loc, nil
	}
	base, err := url.Parse(c.creds.URL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// cleanup deletes the server-side request. Failures are ignored.
func (c *Client) cleanup(ctx context.Context, href string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, href, nil)
	if err != nil {
		return
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-ECMWF-KEY", c.creds.Key)
	req.Header.Set("From", c.creds.Email)
}

// call performs a JSON API call with retries and decodes the status document.
func (c *Client) call(ctx context.Context, method, target string, body []byte) (*status, http.Header, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, nil, fmt.Errorf("create request: %w", err)
		}
		c.authorize(req)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if retryable(resp.StatusCode) {
			resp.Body.Close()
			lastErr = statusError(resp)
			continue
		}

		if err := checkStatusCode(resp.StatusCode); err != nil {
			msg := readMessage(resp.Body)
			resp.Body.Close()
			if msg != "" {
				return nil, nil, fmt.Errorf("%w: %s", err, msg)
			}
			return nil, nil, err
		}

		var st status
		err = json.NewDecoder(resp.Body).Decode(&st)
		resp.Body.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("decode status: %w", err)
		}
		if st.Href == "" {
			st.Href = resp.Header.Get("Location")
		}
		return &st, resp.Header, nil
	}

	return nil, nil, fmt.Errorf("%s request failed after %d attempts: %w", strings.ToLower(method), c.opts.RetryAttempts+1, lastErr)
}

// get opens the body of a download, retrying until the response starts.
func (c *Client) get(ctx context.Context, target string) (io.ReadCloser, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		c.authorize(req)
		req.Header.Set("Accept", "*/*")

		resp, err := c.download.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if retryable(resp.StatusCode) {
			resp.Body.Close()
			lastErr = statusError(resp)
			continue
		}

		if err := checkStatusCode(resp.StatusCode); err != nil {
			resp.Body.Close()
			return nil, err
		}

		return resp.Body, nil
	}

	return nil, fmt.Errorf("get request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	return sleep(ctx, jitter)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRateLimited, resp.Status)
	}
	return fmt.Errorf("%w: %s", ErrServerError, resp.Status)
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// readMessage extracts the error message from an API error body, if any.
func readMessage(r io.Reader) string {
	var st status
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&st); err != nil {
		return ""
	}
	return st.message()
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
