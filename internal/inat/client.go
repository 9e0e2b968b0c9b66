// Package inat is the sync engine for the iNaturalist v1 API: a
// conditional-request HTTP client, a keyset cursor over an owner's
// observation ids, a bounded-concurrency batch fetcher, and the driver
// that feeds fetched payloads through the normalizer into the cache.
package inat

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openfield/inatmirror/internal/cache"
)

const (
	defaultEndpoint  = "https://api.inaturalist.org/v1"
	defaultWorkers   = 5
	defaultBatchSize = 20

	// Applied when the server rate-limits without a usable Retry-After.
	defaultRetryDelay = 60 * time.Second

	jsonMediaType = "application/json"
)

// Logger is the minimal logging surface the client needs.
type Logger interface {
	Printf(format string, args ...any)
}

// SleepFunc blocks for the given delay or until the context is done.
// Injectable so rate-limit tests run without wall-clock waits.
type SleepFunc func(ctx context.Context, delay time.Duration) error

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      *cache.Store
	Logger     Logger
	Sleep      SleepFunc
	Workers    int
	BatchSize  int
}

// Client talks to the API and keeps the local cache current.
type Client struct {
	baseURL   *url.URL
	httpc     *http.Client
	store     *cache.Store
	logger    Logger
	sleep     SleepFunc
	workers   int
	batchSize int
}

func New(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultEndpoint
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Client{
		baseURL:   baseURL,
		httpc:     httpc,
		store:     opts.Store,
		logger:    opts.Logger,
		sleep:     sleep,
		workers:   workers,
		batchSize: batchSize,
	}, nil
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// endpoint builds an absolute URL under the API base.
func (c *Client) endpoint(path string, query url.Values) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return &u
}

// Result is one successful exchange: the captured snapshot metadata and
// the decoded envelope.
type Result struct {
	Header   cache.Header
	Envelope Envelope
}

// fetch performs one conditional GET. When prior is non-nil the request
// carries If-Modified-Since (and If-None-Match when an etag is known); a
// 304 answer returns (nil, nil) and the caller keeps its cache. Rate
// limiting is recovered here, invisibly to callers: the request is
// retried after the server's Retry-After delay, indefinitely. Every
// other non-success outcome is fatal.
func (c *Client) fetch(ctx context.Context, u *url.URL, prior *cache.Header) (*Result, error) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", jsonMediaType)
		if prior != nil {
			req.Header.Set("If-Modified-Since", prior.Date.UTC().Format(http.TimeFormat))
			if prior.Etag != "" {
				req.Header.Set("If-None-Match", prior.Etag)
			}
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", u.Path, err)
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read response for %s: %w", u.Path, readErr)
		}

		switch {
		case resp.StatusCode == http.StatusNotModified:
			return nil, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			delay := retryAfter(resp.Header.Get("Retry-After"))
			c.logf("rate limited on %s; retrying in %s", u.Path, delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return nil, &StatusError{Status: resp.StatusCode, Message: embeddedError(body)}
		}

		if err := checkContentType(resp.Header.Get("Content-Type")); err != nil {
			return nil, err
		}
		hdr, err := captureHeader(resp.Header)
		if err != nil {
			return nil, err
		}
		env, err := decodeEnvelope(body)
		if err != nil {
			return nil, err
		}
		if err := env.err(); err != nil {
			return nil, err
		}
		return &Result{Header: *hdr, Envelope: *env}, nil
	}
}

// retryAfter reads the server's delay in seconds, falling back to the
// default when the header is absent or unparseable.
func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultRetryDelay
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return defaultRetryDelay
	}
	return time.Duration(seconds) * time.Second
}

// checkContentType requires exactly application/json, optionally with a
// utf-8 charset token and nothing else.
func checkContentType(value string) error {
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		return protocolf("bad content type %q", value)
	}
	if mediaType != jsonMediaType {
		return protocolf("bad content type %q", value)
	}
	for name, val := range params {
		if name != "charset" || !strings.EqualFold(val, "utf-8") {
			return protocolf("bad content type %q", value)
		}
	}
	return nil
}

// captureHeader derives the snapshot metadata: the true resource time is
// the Date header minus any Age, plus the etag when present.
func captureHeader(h http.Header) (*cache.Header, error) {
	dateValue := h.Get("Date")
	if dateValue == "" {
		return nil, protocolf("missing Date header")
	}
	ts, err := http.ParseTime(dateValue)
	if err != nil {
		return nil, protocolf("bad Date header %q: %v", dateValue, err)
	}
	if ageValue := strings.TrimSpace(h.Get("Age")); ageValue != "" {
		age, err := strconv.ParseUint(ageValue, 10, 32)
		if err != nil {
			return nil, protocolf("bad Age header %q", ageValue)
		}
		ts = ts.Add(-time.Duration(age) * time.Second)
	}
	return &cache.Header{Date: ts.UTC(), Etag: h.Get("Etag")}, nil
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
