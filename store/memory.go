// Package store keeps the tasks visible to status queries.
package store

import (
	"sort"
	"sync"

	"go-cloudtasks-emulator/model"
)

// Memory replaces whole tasks per key; callers never share a *model.Task
// with the store, so a dispatch loop can keep mutating its own copy.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]*model.Task
}

func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]*model.Task)}
}

func (m *Memory) Put(task *model.Task) {
	c := task.Clone()
	m.mu.Lock()
	m.tasks[c.ID] = c
	m.mu.Unlock()
}

func (m *Memory) Get(id string) (*model.Task, bool) {
	m.mu.RLock()
	t, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Snapshot returns copies of all tasks, oldest first.
func (m *Memory) Snapshot() []*model.Task {
	m.mu.RLock()
	out := make([]*model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreateTime.Equal(out[j].CreateTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreateTime.Before(out[j].CreateTime)
	})
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}
