package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCrawlRelaysSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/crawl", r.URL.Path)
		var got CrawlRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "cats", got.Keyword)
		assert.JSONEq(t, "2.5", string(got.Limit))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"abc","status":"pending"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	resp, err := c.StartCrawl(context.Background(), CrawlRequest{Keyword: "cats", Limit: json.RawMessage("2.5")})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.Status)
	require.JSONEq(t, `{"job_id":"abc","status":"pending"}`, string(resp.Body))
}

func TestStartCrawlTranslatesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "string detail", status: http.StatusConflict, body: `{"detail":"already running"}`, wantMsg: "already running"},
		{name: "missing detail", status: http.StatusBadGateway, body: `{}`, wantMsg: DefaultCrawlError},
		{name: "non json", status: http.StatusInternalServerError, body: `oops`, wantMsg: DefaultCrawlError},
		{
			name: "structured detail", status: http.StatusUnprocessableEntity,
			body: `{"detail":[{"loc":["body","limit"]}]}`, wantMsg: `[{"loc":["body","limit"]}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := New(Config{BaseURL: srv.URL})
			require.NoError(t, err)
			_, err = c.StartCrawl(context.Background(), CrawlRequest{Keyword: "k"})
			var be *Error
			require.ErrorAs(t, err, &be)
			require.Equal(t, tt.status, be.Status)
			require.Equal(t, tt.wantMsg, be.Message)
		})
	}
}

func TestStartCrawlTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: base})
	require.NoError(t, err)
	_, err = c.StartCrawl(context.Background(), CrawlRequest{Keyword: "k"})
	require.True(t, errors.Is(err, ErrBackendUnavailable))
}

func TestDownloadBundle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/base/api/images/download", r.URL.Path)
		if r.URL.Query().Get("keyword") == "none" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"No images found"}`))
			return
		}
		assert.Equal(t, "red & blue", r.URL.Query().Get("keyword"))
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("PK-zip"))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/base/"})
	require.NoError(t, err)

	resp, err := c.DownloadBundle(context.Background(), "red & blue")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "PK-zip", string(data))

	_, err = c.DownloadBundle(context.Background(), "none")
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, http.StatusNotFound, be.Status)
	require.Equal(t, "No images found", be.Message)
}

func TestNewValidatesBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "localhost:8000", "://bad"} {
		_, err := New(Config{BaseURL: raw})
		require.Error(t, err, raw)
	}
}
