package workload

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewHTTP_Validation(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "example.com/path"},
		{"ftp", "ftp://example.com"},
		{"missing host", "http://:8000/cpu_intensive"},
		{"unparseable", "http://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTP(HTTPConfig{URL: tt.url})
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	h, err := NewHTTP(HTTPConfig{URL: "http://lb.example.com:8000/cpu_intensive?iterations=100"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, h.Method())
	assert.Equal(t, "http://lb.example.com:8000/cpu_intensive?iterations=100", h.URL())
}

func TestHTTP_Success(t *testing.T) {
	var gotPath, gotQuery, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-Run")
		_, _ = w.Write([]byte(`{"result": 42}`))
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{
		URL:     srv.URL + "/cpu_intensive?iterations=100",
		Headers: map[string]string{"X-Run": "abc"},
	})
	require.NoError(t, err)

	require.NoError(t, h.Run(context.Background()))
	assert.Equal(t, "/cpu_intensive", gotPath)
	assert.Equal(t, "iterations=100", gotQuery)
	assert.Equal(t, "abc", gotHeader)
}

func TestHTTP_NonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	err = h.Run(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "status 503", err.Error())
}

func TestHTTP_ExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{URL: srv.URL, Expect: Expectation{Status: http.StatusAccepted}})
	require.NoError(t, err)
	assert.NoError(t, h.Run(context.Background()))

	h, err = NewHTTP(HTTPConfig{URL: srv.URL, Expect: Expectation{Status: http.StatusOK}})
	require.NoError(t, err)
	assert.EqualError(t, h.Run(context.Background()), "status 202")
}

func TestHTTP_Expectations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ok", "data": {"allocated_mb": 100}}`))
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		expect  Expectation
		wantErr string
	}{
		{name: "path exists", expect: Expectation{JSONPath: "data.allocated_mb"}},
		{name: "dollar prefix", expect: Expectation{JSONPath: "$.status", Equals: "ok"}},
		{name: "whole document", expect: Expectation{JSONPath: "$"}},
		{name: "contains", expect: Expectation{Contains: "allocated_mb"}},
		{name: "missing path", expect: Expectation{JSONPath: "data.missing"}, wantErr: `json path "data.missing" not found`},
		{name: "mismatch", expect: Expectation{JSONPath: "status", Equals: "degraded"}, wantErr: `json path "status" mismatch`},
		{name: "missing substring", expect: Expectation{Contains: "error"}, wantErr: `body does not contain "error"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHTTP(HTTPConfig{URL: srv.URL, Expect: tt.expect})
			require.NoError(t, err)

			err = h.Run(context.Background())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var expErr *ExpectationError
			require.ErrorAs(t, err, &expErr)
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestHTTP_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	h, err := NewHTTP(HTTPConfig{URL: srv.URL, Client: ClientConfig{Timeout: 30 * time.Millisecond}})
	require.NoError(t, err)

	err = h.Run(context.Background())
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "timeout", err.Error())
}

func TestHTTP_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	h, err := NewHTTP(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = h.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "timeout", err.Error())
}

func TestHTTP_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	h, err := NewHTTP(HTTPConfig{URL: target})
	require.NoError(t, err)

	err = h.Run(context.Background())
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "connection refused", err.Error())
}

func TestHTTP_TracingSpansAndPropagation(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var traceparent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent.Store(r.Header.Get("traceparent"))
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	ok, err := NewHTTP(HTTPConfig{URL: srv.URL + "/"}, WithTracer(tp.Tracer("test")), WithPropagation(true))
	require.NoError(t, err)
	require.NoError(t, ok.Run(context.Background()))
	assert.NotEmpty(t, traceparent.Load())

	fail, err := NewHTTP(HTTPConfig{URL: srv.URL + "/fail"}, WithTracer(tp.Tracer("test")))
	require.NoError(t, err)
	require.Error(t, fail.Run(context.Background()))
	assert.Empty(t, traceparent.Load())

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "HTTP GET", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.Equal(t, "status 500", spans[1].Status.Description)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(ClientConfig{})
	assert.Equal(t, 30*time.Second, c.Timeout)

	transport, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 1000, transport.MaxIdleConns)
	assert.Equal(t, 100, transport.MaxIdleConnsPerHost)
	assert.Nil(t, transport.TLSClientConfig)

	c = NewClient(ClientConfig{Timeout: time.Second, InsecureSkipVerify: true, MaxConnsPerHost: 5})
	transport = c.Transport.(*http.Transport)
	assert.Equal(t, time.Second, c.Timeout)
	assert.Equal(t, 5, transport.MaxConnsPerHost)
	require.NotNil(t, transport.TLSClientConfig)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
}
