// Package transport issues the outbound HTTP request of one task attempt.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"go-cloudtasks-emulator/model"
)

const DefaultTimeout = 10 * time.Minute

// maxDrain bounds how much of a response body is read before closing.
const maxDrain = 1 << 20

// Routing hints travel as headers; the URL is always host + relative URI.
const (
	headerService  = "X-AppEngine-Service"
	headerVersion  = "X-AppEngine-Version"
	headerInstance = "X-AppEngine-Instance"
	headerHost     = "X-AppEngine-Routing-Host"
)

type HTTP struct {
	client *http.Client
	logger *zap.Logger
}

func NewHTTP(timeout time.Duration, logger *zap.Logger) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Deliver never panics past its boundary: every failure to complete the
// exchange comes back as an error. Non-2xx statuses are responses.
func (h *HTTP) Deliver(ctx context.Context, spec model.RequestSpec, host string) (resp *model.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("deliver: %v", r)
		}
	}()

	req, err := BuildRequest(ctx, spec, host)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("dispatching request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()))

	res, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxDrain))

	return &model.Response{StatusCode: res.StatusCode, Header: res.Header}, nil
}

// BuildRequest turns a request spec into an *http.Request. The same spec
// always yields the same method, URL, headers and body.
func BuildRequest(ctx context.Context, spec model.RequestSpec, host string) (*http.Request, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, host+spec.RelativeURI, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.URL.Scheme == "" || req.URL.Host == "" {
		return nil, fmt.Errorf("build request: no target host for %q", host+spec.RelativeURI)
	}

	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	if r := spec.Routing; r != nil {
		setIf(req.Header, headerService, r.Service)
		setIf(req.Header, headerVersion, r.Version)
		setIf(req.Header, headerInstance, r.Instance)
		setIf(req.Header, headerHost, r.Host)
	}
	return req, nil
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}
