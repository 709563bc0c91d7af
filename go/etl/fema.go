package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/withObsrvr/fema-disaster-etl/go/logging"
	"github.com/withObsrvr/fema-disaster-etl/go/resilience"
)

// OpenFEMA dataset names, doubling as the JSON wrapper key of each feed.
const (
	DatasetDeclarations = "DisasterDeclarationsSummaries"
	DatasetProjects     = "PublicAssistanceFundedProjectsDetails"
)

// timestampFilterLayout is the OData timestamp format accepted by the feed.
const timestampFilterLayout = "2006-01-02T15:04:05.000Z"

// FeedPage is one page of raw records with the offset it was fetched at.
type FeedPage struct {
	Offset  int
	Records []RawRecord
}

// ClientOptions configures the source API client.
type ClientOptions struct {
	BaseURL  string
	PageSize int
	MaxPages int // 0 = unbounded
	Timeout  time.Duration
}

// Client fetches paginated records from the OpenFEMA API using
// $top/$skip cursor semantics. Transport failures are retried with
// bounded backoff; exhaustion surfaces as SourceUnavailableError.
type Client struct {
	baseURL    string
	pageSize   int
	maxPages   int
	httpClient *http.Client
	retry      *resilience.RetryManager
	attempts   int
	log        *logging.ComponentLogger
}

// NewClient creates a source API client
func NewClient(opts ClientOptions, policy *resilience.RetryPolicy, log *logging.ComponentLogger) *Client {
	if policy == nil {
		policy = resilience.DefaultRetryPolicy()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    opts.BaseURL,
		pageSize:   opts.PageSize,
		maxPages:   opts.MaxPages,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retry:      resilience.NewRetryManager(policy, log),
		attempts:   policy.MaxAttempts,
		log:        log,
	}
}

// FetchPages streams pages of raw records to fn, starting at
// startOffset, until the source reports a short or empty page or the
// page cap is reached. When since is non-zero the request narrows the
// window to records refreshed at or after it.
//
// Pages are handed downstream as soon as they are decoded: a transport
// failure on a later page never discards records already delivered. The
// returned offset is the cursor after the last fully delivered page.
func (c *Client) FetchPages(ctx context.Context, dataset string, startOffset int, since time.Time, fn func(FeedPage) error) (int, error) {
	offset := startOffset
	pages := 0

	for {
		start := time.Now()
		records, err := c.fetchPage(ctx, dataset, offset, since)
		if err != nil {
			return offset, &SourceUnavailableError{
				Dataset:  dataset,
				Offset:   offset,
				Attempts: c.attempts,
				Err:      err,
			}
		}
		if len(records) == 0 {
			break
		}
		c.log.LogPageFetched(dataset, offset, len(records), time.Since(start))

		if err := fn(FeedPage{Offset: offset, Records: records}); err != nil {
			return offset, err
		}
		offset += len(records)
		pages++

		if len(records) < c.pageSize {
			break
		}
		if c.maxPages > 0 && pages >= c.maxPages {
			c.log.Info().
				Str("dataset", dataset).
				Int("pages", pages).
				Int("offset", offset).
				Msg("Page cap reached, ending extraction early")
			break
		}
	}

	return offset, nil
}

// fetchPage retrieves and decodes a single page, retrying transport and
// server-side failures.
func (c *Client) fetchPage(ctx context.Context, dataset string, offset int, since time.Time) ([]RawRecord, error) {
	endpoint, err := url.JoinPath(c.baseURL, dataset)
	if err != nil {
		return nil, fmt.Errorf("build endpoint url: %w", err)
	}

	q := url.Values{}
	q.Set("$top", fmt.Sprintf("%d", c.pageSize))
	q.Set("$skip", fmt.Sprintf("%d", offset))
	if !since.IsZero() {
		q.Set("$filter", fmt.Sprintf("lastRefresh ge '%s'", since.UTC().Format(timestampFilterLayout)))
	}
	pageURL := endpoint + "?" + q.Encode()

	var records []RawRecord
	err = c.retry.Execute(ctx, fmt.Sprintf("fetch %s page", dataset), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("server error: status %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("too many requests: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var envelope map[string]json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}

		records = nil
		if payload, ok := envelope[dataset]; ok {
			if err := json.Unmarshal(payload, &records); err != nil {
				return fmt.Errorf("decode %s payload: %w", dataset, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
