// Package github implements the CommitSource port using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit/github_primary_ratelimit"

	"github.com/ericfisherdev/commitcast/internal/domain/model"
	"github.com/ericfisherdev/commitcast/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CommitSource = (*Client)(nil)

const (
	// mediaTypeGitHubJSON replaces go-github's default v3 media type.
	mediaTypeGitHubJSON = "application/vnd.github+json"

	maxAttempts    = 3
	initialBackoff = 1 * time.Second
	requestTimeout = 15 * time.Second

	// maxErrorBody caps how much of a failed response body is kept for logs.
	maxErrorBody = 2048
)

// Client implements the driven.CommitSource port using the go-github library.
// It is safe for concurrent use; the only shared state is the HTTP transport.
type Client struct {
	gh             *gh.Client
	closeIdle      func()
	now            func() time.Time
	newTimer       func() backoff.Timer
	initialBackoff time.Duration
}

// Option customises a Client. Options exist for tests that must observe
// backoff sleeps or rate limit arithmetic without waiting on the wall clock.
type Option func(*Client)

// WithTimer replaces the timer used between retry attempts.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Client) { c.newTimer = newTimer }
}

// WithClock replaces the clock used to compute rate limit reset delays.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithBaseURL points the client at a different API root, such as a GitHub
// Enterprise host.
func WithBaseURL(u *url.URL) Option {
	return func(c *Client) {
		base := *u
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		c.gh.BaseURL = &base
	}
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (primary limiter refuses requests until an exhausted
//     quota resets; secondary limiter sleeps on 429)
//  3. go-github (GitHub REST API client, bearer auth when token is non-empty)
func NewClient(token string, opts ...Option) *Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	cacheTransport := httpcache.NewMemoryCacheTransport()
	cacheTransport.Transport = base

	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	rateLimitClient.Timeout = requestTimeout

	client := gh.NewClient(rateLimitClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	c := &Client{
		gh:             client,
		closeIdle:      base.CloseIdleConnections,
		now:            time.Now,
		initialBackoff: initialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string, opts ...Option) (*Client, error) {
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	c := &Client{
		gh:             client,
		closeIdle:      httpClient.CloseIdleConnections,
		now:            time.Now,
		initialBackoff: initialBackoff,
	}
	WithBaseURL(u)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases idle pooled connections held by the transport.
func (c *Client) Close() error {
	if c.closeIdle != nil {
		c.closeIdle()
	}
	return nil
}

// FetchRecentCommits lists the newest CommitPageSize commits on branch.
//
// Transport failures and 500/502/503/504 responses are retried with
// exponential backoff (1s, 2s) for a total of three attempts. An exhausted
// quota, whether reported by GitHub or by the primary rate limiter, and any
// other non-200 status end the attempt budget immediately. Every failure is
// returned as a *driven.FetchError.
func (c *Client) FetchRecentCommits(ctx context.Context, owner, name, branch string) ([]model.CommitRecord, error) {
	slug := model.RepositoryTarget{Owner: owner, Name: name, Branch: branch}.Slug()

	var (
		commits  []model.CommitRecord
		attempts int
		terminal bool
	)

	operation := func() error {
		attempts++

		result, resp, err := c.listCommits(ctx, owner, name, branch)
		if err == nil && resp != nil && resp.StatusCode != http.StatusOK {
			// Any 2xx other than 200 carries no commit page.
			terminal = true
			return backoff.Permanent(&driven.FetchError{
				Kind:       driven.FailureHTTPStatus,
				Slug:       slug,
				StatusCode: resp.StatusCode,
				Body:       http.StatusText(resp.StatusCode),
				Attempts:   attempts,
				Err:        fmt.Errorf("unexpected status %s", resp.Status),
			})
		}
		if err == nil {
			logRateLimit(resp, slug, len(result))
			commits = checkPage(result, slug)
			return nil
		}

		fetchErr, retryable := c.classify(slug, err)
		fetchErr.Attempts = attempts
		if !retryable {
			terminal = true
			return backoff.Permanent(fetchErr)
		}
		return fetchErr
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("commit fetch failed, retrying",
			"repo", slug,
			"attempt", attempts,
			"backoff", wait,
			"error", err,
		)
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, c.newBackOff(ctx), notify, timer)
	if err == nil {
		return commits, nil
	}

	var fetchErr *driven.FetchError
	if !errors.As(err, &fetchErr) {
		// Context cancellation during a backoff sleep surfaces as ctx.Err().
		return nil, &driven.FetchError{Kind: driven.FailureTransport, Slug: slug, Attempts: attempts, Err: err}
	}
	if terminal {
		return nil, fetchErr
	}

	return nil, &driven.FetchError{
		Kind:       driven.FailureRetriesExhausted,
		Slug:       slug,
		StatusCode: fetchErr.StatusCode,
		Body:       fetchErr.Body,
		Attempts:   attempts,
		Err:        fetchErr,
	}
}

// newBackOff builds the 1s-doubling, jitter-free schedule bounded to
// maxAttempts total attempts.
func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Minute
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, maxAttempts-1), ctx)
}

// listCommits issues a single commit listing request. It goes through
// NewRequest/Do rather than Repositories.ListCommits so the Accept header can
// carry the unversioned GitHub JSON media type.
func (c *Client) listCommits(ctx context.Context, owner, name, branch string) ([]*gh.RepositoryCommit, *gh.Response, error) {
	query := url.Values{}
	query.Set("sha", branch)
	query.Set("per_page", strconv.Itoa(driven.CommitPageSize))

	u := fmt.Sprintf("repos/%s/%s/commits?%s", url.PathEscape(owner), url.PathEscape(name), query.Encode())

	req, err := c.gh.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", mediaTypeGitHubJSON)

	var commits []*gh.RepositoryCommit
	resp, err := c.gh.Do(ctx, req, &commits)
	if err != nil {
		return nil, resp, err
	}

	return commits, resp, nil
}

// classify maps a go-github error onto a FetchError and reports whether the
// attempt may be retried.
func (c *Client) classify(slug string, err error) (*driven.FetchError, bool) {
	// The primary limiter answers an exhausted quota itself, so go-github
	// only sees a transport error.
	var limitErr *github_primary_ratelimit.RateLimitReachedError
	if errors.As(err, &limitErr) {
		status := http.StatusForbidden
		if limitErr.Response != nil {
			status = limitErr.Response.StatusCode
		}
		var resetIn time.Duration
		if limitErr.ResetTime != nil {
			resetIn = c.resetIn(*limitErr.ResetTime)
		}
		return &driven.FetchError{
			Kind:       driven.FailureRateLimited,
			Slug:       slug,
			StatusCode: status,
			ResetIn:    resetIn,
			Err:        err,
		}, false
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &driven.FetchError{
			Kind:       driven.FailureRateLimited,
			Slug:       slug,
			StatusCode: http.StatusForbidden,
			ResetIn:    c.resetIn(rateErr.Rate.Reset.Time),
			Err:        err,
		}, false
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		status := http.StatusForbidden
		if abuseErr.Response != nil {
			status = abuseErr.Response.StatusCode
		}
		return &driven.FetchError{
			Kind:       driven.FailureRateLimited,
			Slug:       slug,
			StatusCode: status,
			ResetIn:    abuseErr.GetRetryAfter(),
			Err:        err,
		}, false
	}

	var acceptedErr *gh.AcceptedError
	if errors.As(err, &acceptedErr) {
		body := strings.TrimSpace(string(acceptedErr.Raw))
		if body == "" {
			body = http.StatusText(http.StatusAccepted)
		}
		return &driven.FetchError{
			Kind:       driven.FailureHTTPStatus,
			Slug:       slug,
			StatusCode: http.StatusAccepted,
			Body:       body,
			Err:        err,
		}, false
	}

	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		status := errResp.Response.StatusCode
		return &driven.FetchError{
			Kind:       driven.FailureHTTPStatus,
			Slug:       slug,
			StatusCode: status,
			Body:       errorBody(errResp),
			Err:        err,
		}, isTransientStatus(status)
	}

	return &driven.FetchError{Kind: driven.FailureTransport, Slug: slug, Err: err}, true
}

// resetIn returns the time until reset, or zero if reset is unknown or past.
func (c *Client) resetIn(reset time.Time) time.Duration {
	if reset.IsZero() {
		return 0
	}
	wait := reset.Sub(c.now())
	if wait <= 0 {
		return 0
	}
	return wait.Round(time.Second)
}

func isTransientStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// errorBody returns the raw response body go-github re-populates after
// decoding an error, falling back to the decoded message.
func errorBody(errResp *gh.ErrorResponse) string {
	if errResp.Response != nil && errResp.Response.Body != nil {
		data, err := io.ReadAll(io.LimitReader(errResp.Response.Body, maxErrorBody))
		if err == nil && len(data) > 0 {
			return strings.TrimSpace(string(data))
		}
	}
	return errResp.Message
}

// checkPage maps a fetched page and enforces the newest-first, page-size
// contract that delta computation relies on. Violations are logged; an
// oversized page is truncated.
func checkPage(page []*gh.RepositoryCommit, slug string) []model.CommitRecord {
	if len(page) > driven.CommitPageSize {
		slog.Warn("commit page larger than requested",
			"repo", slug,
			"count", len(page),
			"page_size", driven.CommitPageSize,
		)
		page = page[:driven.CommitPageSize]
	}

	commits := make([]model.CommitRecord, 0, len(page))
	var prev time.Time
	for i, rc := range page {
		date := rc.GetCommit().GetCommitter().GetDate().Time
		if i > 0 && !date.IsZero() && !prev.IsZero() && date.After(prev) {
			slog.Warn("commit page not ordered newest-first",
				"repo", slug,
				"position", i,
				"sha", rc.GetSHA(),
			)
		}
		if !date.IsZero() {
			prev = date
		}
		commits = append(commits, mapCommit(rc))
	}

	return commits
}

// mapCommit converts a go-github RepositoryCommit to a domain CommitRecord.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapCommit(rc *gh.RepositoryCommit) model.CommitRecord {
	message := model.FirstLine(rc.GetCommit().GetMessage())
	if message == "" {
		message = "(no message)"
	}

	author := rc.GetCommit().GetAuthor().GetName()
	if author == "" {
		author = model.UnknownAuthor
	}

	return model.CommitRecord{
		SHA:              rc.GetSHA(),
		MessageFirstLine: message,
		AuthorName:       author,
		HTMLURL:          rc.GetHTMLURL(),
	}
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, slug string, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"repo", slug,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}
