package targetserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, target string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec.Code, rec.Body.String()
}

func TestHealth(t *testing.T) {
	code, body := get(t, New(nil).Handler(), "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Service is up!", body)
}

func TestUnknownPath(t *testing.T) {
	code, _ := get(t, New(nil).Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCPUIntensive(t *testing.T) {
	h := New(nil).Handler()

	tests := []struct {
		target   string
		wantCode int
		wantBody string
	}{
		{"/cpu_intensive", http.StatusOK, "with 10 iterations"},
		{"/cpu_intensive?iterations=100", http.StatusOK, "with 100 iterations"},
		{"/cpu_intensive?iterations=0", http.StatusOK, "with 0 iterations"},
		{"/cpu_intensive?iterations=abc", http.StatusBadRequest, "iterations must be a non-negative integer"},
		{"/cpu_intensive?iterations=-1", http.StatusBadRequest, "non-negative"},
		{"/cpu_intensive?iterations=2000000", http.StatusBadRequest, "at most 1000000"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			code, body := get(t, h, tt.target)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, body, tt.wantBody)
		})
	}
}

func TestMemoryIntensive(t *testing.T) {
	s := New(nil)
	h := s.Handler()

	code, body := get(t, h, "/memory_intensive?memory_mb=2")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Memory Intensive Task Executed Successfully with 2 MB of memory consumption", body)
	assert.Equal(t, 2<<20, s.Retained())

	code, _ = get(t, h, "/memory_intensive?memory_mb=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1<<20, s.Retained())

	code, _ = get(t, h, "/memory_intensive?memory_mb=99999")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 1<<20, s.Retained())
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(nil).Serve(ctx, ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/cpu_intensive?iterations=1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "with 1 iterations")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
