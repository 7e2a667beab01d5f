// Package metadata resolves an ISBN to descriptive book fields via the Google
// Books volumes API. The gateway is strictly off the circulation path: every
// failure mode degrades to "enrichment unavailable".
package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	ErrNotFound           = errors.New("no book found for this isbn")
	ErrGatewayUnavailable = errors.New("metadata gateway unavailable")
)

// VolumeInfo is the narrow contract the rest of the service consumes.
type VolumeInfo struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Publisher     string   `json:"publisher"`
	PublishedDate string   `json:"published_date"`
	Description   string   `json:"description"`
	Categories    []string `json:"categories"`
	CoverURL      string   `json:"cover_url"`
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewClient builds a gateway client with a bounded request timeout, a circuit
// breaker that opens after consecutive upstream failures, and a client-side
// rate limit toward the public API.
func NewClient(baseURL string, timeout time.Duration, ratePerMinute int) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "google-books",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A definite "no such book" is a healthy upstream answer.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})

	if ratePerMinute <= 0 {
		ratePerMinute = 1
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), ratePerMinute),
	}
}

// volumesResponse mirrors just the slice of the API document we read.
type volumesResponse struct {
	Items []struct {
		VolumeInfo struct {
			Title         string   `json:"title"`
			Authors       []string `json:"authors"`
			Publisher     string   `json:"publisher"`
			PublishedDate string   `json:"publishedDate"`
			Description   string   `json:"description"`
			Categories    []string `json:"categories"`
			ImageLinks    struct {
				Thumbnail string `json:"thumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// Lookup resolves an ISBN. It returns ErrNotFound when the API answers but
// knows no such book, and ErrGatewayUnavailable for every transport-level or
// upstream failure (including an open breaker).
func (c *Client) Lookup(ctx context.Context, isbn string) (*VolumeInfo, error) {
	if !c.limiter.Allow() {
		return nil, fmt.Errorf("%w: client rate limit exceeded", ErrGatewayUnavailable)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, isbn)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return result.(*VolumeInfo), nil
}

func (c *Client) fetch(ctx context.Context, isbn string) (*VolumeInfo, error) {
	q := url.Values{}
	q.Set("q", "isbn:"+isbn)
	q.Set("maxResults", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/volumes?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var doc volumesResponse
	if err := jsoniter.ConfigFastest.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode volumes response: %w", err)
	}

	if len(doc.Items) == 0 {
		return nil, ErrNotFound
	}

	info := doc.Items[0].VolumeInfo
	return &VolumeInfo{
		Title:         info.Title,
		Authors:       info.Authors,
		Publisher:     info.Publisher,
		PublishedDate: info.PublishedDate,
		Description:   info.Description,
		Categories:    info.Categories,
		CoverURL:      info.ImageLinks.Thumbnail,
	}, nil
}
