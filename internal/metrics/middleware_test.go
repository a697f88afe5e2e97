package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	Init()
	before200 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("PUT", "200"))
	before404 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("PUT", "404"))

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Put("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Put("/notfound", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/test", "/notfound"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, path, nil))
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("PUT", "200")); val != before200+1 {
		t.Errorf("Expected httpRequestsTotal for PUT /test to be %f, got %f", before200+1, val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("PUT", "404")); val != before404+1 {
		t.Errorf("Expected httpRequestsTotal for PUT /notfound to be %f, got %f", before404+1, val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("Expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}

func TestStatusRecorderFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}
	var w http.ResponseWriter = wrapped
	f, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("expected statusRecorder to implement http.Flusher")
	}
	f.Flush()
	if !rec.Flushed {
		t.Error("expected underlying recorder to be flushed")
	}
	if wrapped.Unwrap() != rec {
		t.Error("expected Unwrap to return the underlying writer")
	}
}
