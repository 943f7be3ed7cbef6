package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"go-cloudtasks-emulator/metrics"
	"go-cloudtasks-emulator/model"
	"go-cloudtasks-emulator/queue"
	"go-cloudtasks-emulator/store"
)

type TaskStore interface {
	Put(task *model.Task)
	Get(id string) (*model.Task, bool)
	Snapshot() []*model.Task
}

type Dispatcher interface {
	Dispatch(ctx context.Context, task *model.Task)
}

// AttemptLog reads back audited attempts.
type AttemptLog interface {
	Attempts(ctx context.Context, taskID string) ([]store.AttemptRow, error)
}

type Server struct {
	// ctx outlives requests; dispatch loops are bound to it.
	ctx        context.Context
	registry   *queue.Registry
	tasks      TaskStore
	dispatcher Dispatcher
	attempts   AttemptLog
	logger     *zap.Logger
	now        func() time.Time
}

func New(ctx context.Context, registry *queue.Registry, tasks TaskStore, dispatcher Dispatcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ctx:        ctx,
		registry:   registry,
		tasks:      tasks,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// WithAttemptLog enables GET /tasks/{id}/attempts.
func (s *Server) WithAttemptLog(l AttemptLog) *Server {
	s.attempts = l
	return s
}

func NewServer(addr string, srv *Server) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.statusPage)
	mux.HandleFunc("POST /{$}", s.postTask)
	mux.HandleFunc("POST /tasks", s.postTask)
	mux.HandleFunc("GET /tasks", s.getTasks)
	mux.HandleFunc("GET /tasks/{id}", s.getTask)
	mux.HandleFunc("GET /tasks/{id}/attempts", s.getAttempts)
	mux.HandleFunc("GET /queues", s.getQueues)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// postTask accepts a task and starts its dispatch loop without waiting
// for delivery. The queue id comes from ?parent= or ?queue=.
func (s *Server) postTask(w http.ResponseWriter, r *http.Request) {
	var in model.TaskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			http.Error(w, "[API] Empty request body", http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	queueID := r.URL.Query().Get("parent")
	if queueID == "" {
		queueID = r.URL.Query().Get("queue")
	}
	q, ok := s.registry.Lookup(queueID)
	if queueID != "" && !ok {
		s.logger.Debug("unknown queue, using defaults", zap.String("queue", queueID))
	}

	task, err := model.NewTask(in, q, s.now())
	if err != nil {
		http.Error(w, "[API] "+err.Error(), http.StatusBadRequest)
		return
	}

	s.tasks.Put(task)
	metrics.TasksEnqueuedTotal.WithLabelValues(metrics.QueueLabel(task.QueueID)).Inc()
	s.logger.Info("task created",
		zap.String("task", task.ID),
		zap.String("queue", metrics.QueueLabel(task.QueueID)),
		zap.Time("schedule_time", task.ScheduleTime))

	// The loop owns task from here on; respond with a copy.
	view := task.Clone()
	s.dispatcher.Dispatch(s.ctx, task)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(view); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "[API] Task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, task)
}

func (s *Server) getAttempts(w http.ResponseWriter, r *http.Request) {
	if s.attempts == nil {
		http.Error(w, "[API] Attempt history not enabled", http.StatusNotFound)
		return
	}
	id := r.PathValue("id")
	if _, ok := s.tasks.Get(id); !ok {
		http.Error(w, "[API] Task not found", http.StatusNotFound)
		return
	}

	rows, err := s.attempts.Attempts(r.Context(), id)
	if err != nil {
		s.logger.Error("read attempts", zap.String("task", id), zap.Error(err))
		http.Error(w, "[API] Could not read attempts", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []store.AttemptRow{}
	}
	writeJSON(w, rows)
}

var validStates = map[string]model.State{
	"":          "",
	"pending":   model.StatePending,
	"in_flight": model.StateInFlight,
	"succeeded": model.StateSucceeded,
	"exhausted": model.StateExhausted,
}

func (s *Server) getTasks(w http.ResponseWriter, r *http.Request) {
	state, ok := validStates[strings.ToLower(r.URL.Query().Get("state"))]
	if !ok {
		http.Error(w, "Invalid state value", http.StatusBadRequest)
		return
	}

	tasks := []*model.Task{}
	for _, t := range s.tasks.Snapshot() {
		if state == "" || t.State == state {
			tasks = append(tasks, t)
		}
	}
	writeJSON(w, tasks)
}

func (s *Server) getQueues(w http.ResponseWriter, r *http.Request) {
	queues := s.registry.Queues()
	if queues == nil {
		queues = []model.QueueConfig{}
	}
	writeJSON(w, queues)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "[API] Encoding error", http.StatusInternalServerError)
	}
}
