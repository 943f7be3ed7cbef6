package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"go-cloudtasks-emulator/model"
)

// Registry maps queue ids to their configuration. It is never mutated after
// construction, so lookups need no locking.
type Registry struct {
	queues map[string]model.QueueConfig
}

func NewRegistry(queues map[string]model.QueueConfig) *Registry {
	r := &Registry{queues: make(map[string]model.QueueConfig, len(queues))}
	for id, q := range queues {
		q.ID = id
		r.queues[id] = q
	}
	return r
}

// Lookup returns nil, false for unknown ids; callers fall back to queue-less
// defaults.
func (r *Registry) Lookup(id string) (*model.QueueConfig, bool) {
	if r == nil || id == "" {
		return nil, false
	}
	q, ok := r.queues[id]
	if !ok {
		return nil, false
	}
	return &q, true
}

func (r *Registry) Queues() []model.QueueConfig {
	if r == nil {
		return nil
	}
	out := make([]model.QueueConfig, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.queues)
}

type queueEntry struct {
	Host                   string  `json:"host" yaml:"host"`
	RetryLimit             *int    `json:"retry_limit" yaml:"retry_limit"`
	MaxDispatchesPerSecond float64 `json:"max_dispatches_per_second" yaml:"max_dispatches_per_second"`
}

// LoadRegistry reads a hosts file (JSON or YAML) of the form
//
//	{"<queue id>": {"host": "http://localhost:8080", "retry_limit": 5}}
//
// A missing file yields an empty registry. A queue without retry_limit
// retries without limit.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(nil), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewRegistry(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hosts file: %w", err)
	}

	var entries map[string]queueEntry
	unmarshal := yaml.Unmarshal
	if strings.EqualFold(filepath.Ext(path), ".json") {
		unmarshal = json.Unmarshal
	}
	if err := unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode hosts file %s: %w", path, err)
	}

	queues := make(map[string]model.QueueConfig, len(entries))
	for id, e := range entries {
		q := model.QueueConfig{
			TargetHost:             e.Host,
			RetryLimit:             -1,
			MaxDispatchesPerSecond: e.MaxDispatchesPerSecond,
		}
		if e.RetryLimit != nil {
			q.RetryLimit = *e.RetryLimit
		}
		queues[id] = q
	}
	return NewRegistry(queues), nil
}
