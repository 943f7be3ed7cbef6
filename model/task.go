package model

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskInput is the enqueue body accepted from clients.
type TaskInput struct {
	Name             string        `json:"name"`
	ScheduleTime     string        `json:"schedule_time"`
	DispatchDeadline string        `json:"dispatch_deadline"`
	DispatchCount    int           `json:"dispatch_count"`
	ResponseCount    int           `json:"response_count"`
	Request          *RequestInput `json:"app_engine_http_request"`
}

type RequestInput struct {
	HTTPMethod  string            `json:"http_method"`
	RelativeURI string            `json:"relative_uri"`
	Routing     *Routing          `json:"app_engine_routing"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
}

type Task struct {
	ID               string      `json:"name"`
	QueueID          string      `json:"queue,omitempty"`
	Host             string      `json:"host,omitempty"`
	RetryLimit       int         `json:"retry_limit"`
	ScheduleTime     time.Time   `json:"schedule_time"`
	CreateTime       time.Time   `json:"create_time"`
	DispatchDeadline *time.Time  `json:"dispatch_deadline,omitempty"`
	DispatchCount    int         `json:"dispatch_count"`
	ResponseCount    int         `json:"response_count"`
	FirstAttempt     *Attempt    `json:"first_attempt,omitempty"`
	LastAttempt      *Attempt    `json:"last_attempt,omitempty"`
	CompleteTime     *time.Time  `json:"complete_time,omitempty"`
	LastError        string      `json:"last_error,omitempty"`
	State            State       `json:"state"`
	Request          RequestSpec `json:"app_engine_http_request"`
}

type Outcome int

const (
	OutcomeRetry Outcome = iota
	OutcomeSucceeded
	OutcomeExhausted
	// OutcomeInterrupted means ctx ended while the request was in flight.
	// The try is consumed but the task stays PENDING.
	OutcomeInterrupted
)

func (o Outcome) Terminal() bool {
	return o == OutcomeSucceeded || o == OutcomeExhausted
}

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return "retry"
	}
}

// NewTask builds a pending task from client input. A nil queue gives the
// queue-less defaults: no host and DefaultRetryLimit.
func NewTask(in TaskInput, queue *QueueConfig, now time.Time) (*Task, error) {
	if in.Request == nil {
		return nil, ErrMissingRequest
	}
	if in.DispatchCount < 0 || in.ResponseCount < 0 || in.ResponseCount > in.DispatchCount {
		return nil, fmt.Errorf("%w: dispatch_count=%d response_count=%d",
			ErrInvalidCounts, in.DispatchCount, in.ResponseCount)
	}

	schedule, err := parseTime(in.ScheduleTime)
	if err != nil {
		return nil, fmt.Errorf("schedule_time: %w", err)
	}
	deadline, err := parseTime(in.DispatchDeadline)
	if err != nil {
		return nil, fmt.Errorf("dispatch_deadline: %w", err)
	}

	task := &Task{
		ID:               in.Name,
		RetryLimit:       DefaultRetryLimit,
		ScheduleTime:     now,
		CreateTime:       now,
		DispatchDeadline: deadline,
		DispatchCount:    in.DispatchCount,
		ResponseCount:    in.ResponseCount,
		State:            StatePending,
		Request: RequestSpec{
			Method:      in.Request.HTTPMethod,
			RelativeURI: in.Request.RelativeURI,
			Routing:     in.Request.Routing,
			Headers:     maps.Clone(in.Request.Headers),
		},
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if schedule != nil {
		task.ScheduleTime = *schedule
	}
	if in.Request.Body != "" {
		task.Request.Body = []byte(in.Request.Body)
	}
	if queue != nil {
		task.QueueID = queue.ID
		task.Host = queue.TargetHost
		task.RetryLimit = queue.RetryLimit
	}
	return task, nil
}

// RemainingTries returns -1 when retries are unbounded.
func (t *Task) RemainingTries() int {
	if t.RetryLimit < 0 {
		return -1
	}
	return max(0, t.RetryLimit-t.DispatchCount)
}

// Attempt performs one delivery and applies its result. The retry budget is
// the one held before this attempt consumed a dispatch, so a RetryLimit of r
// allows at most r+1 deliveries.
func (t *Task) Attempt(ctx context.Context, d Deliverer, now func() time.Time) Outcome {
	switch t.State {
	case StateSucceeded:
		return OutcomeSucceeded
	case StateExhausted:
		return OutcomeExhausted
	}

	budget := t.RemainingTries()
	t.DispatchCount++
	t.State = StateInFlight

	dispatched := now()
	resp, err := d.Deliver(ctx, t.Request, t.Host)

	success := false
	if err != nil {
		t.LastError = err.Error()
		if ctx.Err() != nil {
			t.State = StatePending
			return OutcomeInterrupted
		}
	} else {
		t.ResponseCount++
		attempt := &Attempt{
			DispatchTime: dispatched,
			ResponseTime: now(),
			Status:       resp.StatusCode,
			Headers:      resp.Header.Clone(),
		}
		if t.FirstAttempt == nil {
			t.FirstAttempt = attempt
		}
		t.LastAttempt = attempt
		success = resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
	}

	if success {
		t.complete(StateSucceeded, now())
		return OutcomeSucceeded
	}
	if budget != 0 {
		t.State = StatePending
		return OutcomeRetry
	}
	t.complete(StateExhausted, now())
	return OutcomeExhausted
}

// DeadlinePassed reports whether a dispatch deadline is set and lies before now.
func (t *Task) DeadlinePassed(now time.Time) bool {
	return t.DispatchDeadline != nil && now.After(*t.DispatchDeadline)
}

// Expire forces the task into EXHAUSTED without another attempt.
func (t *Task) Expire(reason error, now time.Time) {
	if t.State.Terminal() {
		return
	}
	t.LastError = reason.Error()
	t.complete(StateExhausted, now)
}

func (t *Task) complete(state State, now time.Time) {
	if t.CompleteTime != nil {
		return
	}
	t.State = state
	t.CompleteTime = &now
}

func (t *Task) Clone() *Task {
	c := *t
	c.Request.Headers = maps.Clone(t.Request.Headers)
	c.Request.Body = append([]byte(nil), t.Request.Body...)
	if t.Request.Routing != nil {
		r := *t.Request.Routing
		c.Request.Routing = &r
	}
	c.FirstAttempt = t.FirstAttempt.clone()
	c.LastAttempt = t.LastAttempt.clone()
	if t.DispatchDeadline != nil {
		d := *t.DispatchDeadline
		c.DispatchDeadline = &d
	}
	if t.CompleteTime != nil {
		ct := *t.CompleteTime
		c.CompleteTime = &ct
	}
	return &c
}

func (a *Attempt) clone() *Attempt {
	if a == nil {
		return nil
	}
	c := *a
	c.Headers = a.Headers.Clone()
	return &c
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

func parseTime(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}
