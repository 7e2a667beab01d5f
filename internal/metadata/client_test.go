package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupParsesVolumeInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "isbn:9780141439518", r.URL.Query().Get("q"))
		w.Write([]byte(`{"items":[{"volumeInfo":{
			"title":"Pride and Prejudice",
			"authors":["Jane Austen"],
			"publisher":"Penguin",
			"publishedDate":"1813",
			"description":"A novel of manners.",
			"categories":["Fiction"],
			"imageLinks":{"thumbnail":"http://covers.example/pp.jpg"}
		}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 600)
	info, err := c.Lookup(context.Background(), "9780141439518")
	require.NoError(t, err)

	assert.Equal(t, "Pride and Prejudice", info.Title)
	assert.Equal(t, []string{"Jane Austen"}, info.Authors)
	assert.Equal(t, "1813", info.PublishedDate)
	assert.Equal(t, []string{"Fiction"}, info.Categories)
	assert.Equal(t, "http://covers.example/pp.jpg", info.CoverURL)
}

func TestNewClientToleratesZeroRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalItems":0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	require.NotNil(t, c)

	_, err := c.Lookup(context.Background(), "0000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalItems":0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 600)
	_, err := c.Lookup(context.Background(), "0000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupUpstreamErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 600)
	_, err := c.Lookup(context.Background(), "9780141439518")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestLookupTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond, 600)
	_, err := c.Lookup(context.Background(), "9780141439518")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 600)
	for i := 0; i < 8; i++ {
		_, err := c.Lookup(context.Background(), "9780141439518")
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	}

	// The breaker opened after five consecutive failures; later calls never
	// reached the upstream.
	assert.Equal(t, 5, hits)
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"totalItems":0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 600)
	for i := 0; i < 8; i++ {
		_, err := c.Lookup(context.Background(), "0000000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 8, hits)
}
