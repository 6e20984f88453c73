package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func newTestTracerProvider(t *testing.T) (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp
}

func newRouter(mw func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/api/v1/crates/{name}/{version}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusFound)
	})
	r.Put("/api/v1/crates/new", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return r
}

func TestHTTPMetrics_NilPassThrough(t *testing.T) {
	t.Parallel()

	metrics, err := NewHTTPMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, metrics)

	mw, err := MetricsMiddleware(nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	newRouter(mw).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/crates/serde/1.0.0", nil))
	assert.Equal(t, http.StatusFound, rr.Code)
}

func TestHTTPMetrics_RecordsRoutePattern(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	mw, err := MetricsMiddleware(mp)
	require.NoError(t, err)
	router := newRouter(mw)

	for _, p := range []string{"/api/v1/crates/serde/1.0.0", "/api/v1/crates/rand/0.8.5", "/missing"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cargo_registry_http_requests_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value(attribute.Key("route"))
				counts[route.AsString()] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(2), counts["/api/v1/crates/{name}/{version}"])
	assert.Equal(t, int64(1), counts[unknownRoute])
}

func TestTracingMiddleware_NilProvider(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	newRouter(TracingMiddleware(nil)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/crates/serde/1.0.0", nil))
	assert.Equal(t, http.StatusFound, rr.Code)
}

func TestTracingMiddleware_Spans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		path       string
		wantName   string
		wantStatus codes.Code
		wantCode   int
	}{
		{
			name:       "download redirect",
			method:     http.MethodGet,
			path:       "/api/v1/crates/serde/1.0.0",
			wantName:   "GET /api/v1/crates/{name}/{version}",
			wantStatus: codes.Ok,
			wantCode:   http.StatusFound,
		},
		{
			name:       "publish failure",
			method:     http.MethodPut,
			path:       "/api/v1/crates/new",
			wantName:   "PUT /api/v1/crates/new",
			wantStatus: codes.Error,
			wantCode:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			exporter, tp := newTestTracerProvider(t)

			rr := httptest.NewRecorder()
			newRouter(TracingMiddleware(tp)).ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantCode, rr.Code)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, tt.wantName, span.Name)
			assert.Equal(t, tt.wantStatus, span.Status.Code)

			attrs := map[attribute.Key]attribute.Value{}
			for _, kv := range span.Attributes {
				attrs[kv.Key] = kv.Value
			}
			assert.Equal(t, int64(tt.wantCode), attrs[semconv.HTTPResponseStatusCodeKey].AsInt64())
			assert.Equal(t, tt.path, attrs[semconv.URLPathKey].AsString())
		})
	}
}
