package model

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// DefaultRetryLimit applies to tasks created without a known queue.
const DefaultRetryLimit = 3

var (
	ErrMissingRequest   = errors.New("missing app_engine_http_request")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrDeadlineExceeded = errors.New("dispatch deadline exceeded")
	ErrInvalidCounts    = errors.New("invalid dispatch/response counts")
)

type State string

const (
	StatePending   State = "PENDING"
	StateInFlight  State = "IN_FLIGHT"
	StateSucceeded State = "SUCCEEDED"
	StateExhausted State = "EXHAUSTED"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted
}

// QueueConfig is immutable once loaded. RetryLimit < 0 means unlimited
// retries, 0 a single attempt, > 0 the number of additional attempts.
type QueueConfig struct {
	ID                     string  `json:"id"`
	TargetHost             string  `json:"host"`
	RetryLimit             int     `json:"retry_limit"`
	MaxDispatchesPerSecond float64 `json:"max_dispatches_per_second,omitempty"`
}

type Routing struct {
	Service  string `json:"service,omitempty"`
	Version  string `json:"version,omitempty"`
	Instance string `json:"instance,omitempty"`
	Host     string `json:"host,omitempty"`
}

// RequestSpec is replayed verbatim on every attempt.
type RequestSpec struct {
	Method      string            `json:"http_method"`
	RelativeURI string            `json:"relative_uri"`
	Routing     *Routing          `json:"app_engine_routing,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"-"`
}

// Attempt holds the response metadata of one responded delivery.
type Attempt struct {
	DispatchTime time.Time   `json:"dispatch_time"`
	ResponseTime time.Time   `json:"response_time"`
	Status       int         `json:"response_status"`
	Headers      http.Header `json:"response_headers,omitempty"`
}

type Response struct {
	StatusCode int
	Header     http.Header
}

// Deliverer issues one outbound request for a task attempt. Exactly one of
// the returned values is non-nil.
type Deliverer interface {
	Deliver(ctx context.Context, req RequestSpec, host string) (*Response, error)
}
