// Package workload provides the per-iteration actions VUs execute.
package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wesleyorama2/vuramp/internal/tracing"
)

// maxBodyBytes caps how much of a response body is buffered for checks.
const maxBodyBytes = 10 << 20

// ErrInvalidConfig is wrapped by every NewHTTP validation failure.
var ErrInvalidConfig = errors.New("invalid workload config")

// StatusError reports a response status outside the accepted set.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d", e.StatusCode)
}

// RequestError is a transport failure. Error returns a short, bounded
// reason; the cause is available through Unwrap.
type RequestError struct {
	Reason string
	Err    error
}

func (e *RequestError) Error() string { return e.Reason }

func (e *RequestError) Unwrap() error { return e.Err }

// ExpectationError reports a response body that failed a check.
type ExpectationError struct {
	Message string
}

func (e *ExpectationError) Error() string { return e.Message }

// Expectation checks a response beyond its status code.
type Expectation struct {
	// Status is the exact status required. Zero accepts any 2xx.
	Status int `json:"status,omitempty" yaml:"status,omitempty"`

	// JSONPath is a gjson path into the response body. A leading "$." is
	// accepted.
	JSONPath string `json:"jsonPath,omitempty" yaml:"jsonPath,omitempty"`

	// Equals is the value JSONPath must resolve to. Empty only requires
	// the path to exist.
	Equals string `json:"equals,omitempty" yaml:"equals,omitempty"`

	// Contains is a substring the body must contain.
	Contains string `json:"contains,omitempty" yaml:"contains,omitempty"`
}

func (e Expectation) needsBody() bool {
	return e.JSONPath != "" || e.Contains != ""
}

// HTTPConfig describes one request issued per iteration.
type HTTPConfig struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Expect  Expectation
	Client  ClientConfig
}

// Option configures an HTTP workload.
type Option func(*HTTP)

// WithTracer opens one client span per request.
func WithTracer(t trace.Tracer) Option {
	return func(h *HTTP) { h.tracer = t }
}

// WithPropagation injects W3C trace headers into every request.
func WithPropagation(enabled bool) Option {
	return func(h *HTTP) { h.propagate = enabled }
}

// WithHTTPClient overrides the client built from HTTPConfig.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTP) { h.client = c }
}

// HTTP performs a single request per iteration. Transport errors, rejected
// statuses and failed expectations are returned as errors; the VU pool
// records them as failures.
type HTTP struct {
	config    HTTPConfig
	target    *url.URL
	client    *http.Client
	tracer    trace.Tracer
	propagate bool
}

// NewHTTP validates cfg and builds the workload. Method defaults to GET.
func NewHTTP(cfg HTTPConfig, opts ...Option) (*HTTP, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: url %q: %v", ErrInvalidConfig, cfg.URL, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("%w: url %q: scheme must be http or https", ErrInvalidConfig, cfg.URL)
	}
	if target.Host == "" || strings.HasPrefix(target.Host, ":") {
		return nil, fmt.Errorf("%w: url %q: host is required", ErrInvalidConfig, cfg.URL)
	}

	cfg.Method = strings.ToUpper(strings.TrimSpace(cfg.Method))
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}

	h := &HTTP{config: cfg, target: target}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = NewClient(cfg.Client)
	}
	if h.tracer == nil {
		h.tracer = noop.NewTracerProvider().Tracer("vuramp")
	}
	return h, nil
}

// URL returns the request target.
func (h *HTTP) URL() string {
	return h.target.String()
}

// Method returns the request method.
func (h *HTTP) Method() string {
	return h.config.Method
}

// Run issues the request once.
func (h *HTTP) Run(ctx context.Context) (err error) {
	ctx, span := h.tracer.Start(ctx, "HTTP "+h.config.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", h.config.Method),
			attribute.String("url.full", h.target.String()),
			attribute.String("server.address", h.target.Hostname()),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body io.Reader
	if h.config.Body != "" {
		body = strings.NewReader(h.config.Body)
	}
	req, err := http.NewRequestWithContext(ctx, h.config.Method, h.target.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range h.config.Headers {
		req.Header.Set(k, v)
	}
	if h.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if !h.statusAccepted(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if !h.config.Expect.needsBody() {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes)); err != nil {
			return classify(err)
		}
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return classify(err)
	}
	return h.config.Expect.check(data)
}

func (h *HTTP) statusAccepted(code int) bool {
	if h.config.Expect.Status != 0 {
		return code == h.config.Expect.Status
	}
	return code >= 200 && code < 300
}

func (e Expectation) check(body []byte) error {
	if e.Contains != "" && !strings.Contains(string(body), e.Contains) {
		return &ExpectationError{Message: fmt.Sprintf("body does not contain %q", e.Contains)}
	}
	if e.JSONPath == "" {
		return nil
	}

	path := e.JSONPath
	switch {
	case path == "$":
		path = "@this"
	case strings.HasPrefix(path, "$."):
		path = path[2:]
	}

	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return &ExpectationError{Message: fmt.Sprintf("json path %q not found", e.JSONPath)}
	}
	if e.Equals != "" && result.String() != e.Equals {
		return &ExpectationError{Message: fmt.Sprintf("json path %q mismatch", e.JSONPath)}
	}
	return nil
}

// classify maps a transport error onto a short reason.
func classify(err error) error {
	var netErr net.Error
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.Canceled):
		return &RequestError{Reason: "canceled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &RequestError{Reason: "timeout", Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &RequestError{Reason: "timeout", Err: err}
	case errors.As(err, &dnsErr):
		return &RequestError{Reason: "dns error", Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &RequestError{Reason: "connection refused", Err: err}
	case errors.Is(err, syscall.ECONNRESET):
		return &RequestError{Reason: "connection reset", Err: err}
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return &RequestError{Reason: "connection closed", Err: err}
	default:
		return &RequestError{Reason: "transport error", Err: err}
	}
}
