package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-cloudtasks-emulator/model"
)

func newTask(id string, created time.Time) *model.Task {
	return &model.Task{
		ID:         id,
		CreateTime: created,
		State:      model.StatePending,
		Request:    model.RequestSpec{Method: "GET", RelativeURI: "/" + id},
	}
}

func TestMemoryPutGet(t *testing.T) {
	s := NewMemory()
	task := newTask("a", time.Now())
	s.Put(task)

	task.DispatchCount = 7 // writer keeps mutating its own copy

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Zero(t, got.DispatchCount)

	task.State = model.StateSucceeded
	s.Put(task)
	got, _ = s.Get("a")
	assert.Equal(t, 7, got.DispatchCount)
	assert.Equal(t, model.StateSucceeded, got.State)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestMemorySnapshotOrder(t *testing.T) {
	s := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Put(newTask("late", base.Add(2*time.Second)))
	s.Put(newTask("early", base))
	s.Put(newTask("mid", base.Add(time.Second)))

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "early", snap[0].ID)
	assert.Equal(t, "mid", snap[1].ID)
	assert.Equal(t, "late", snap[2].ID)

	snap[0].ID = "changed"
	_, ok := s.Get("early")
	assert.True(t, ok)
}

func TestMemoryConcurrentPuts(t *testing.T) {
	s := NewMemory()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := newTask(fmt.Sprintf("task-%d", i), time.Now())
			for n := 1; n <= 20; n++ {
				task.DispatchCount = n
				s.Put(task)
				s.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	for _, task := range s.Snapshot() {
		assert.Equal(t, 20, task.DispatchCount, task.ID)
	}
}
