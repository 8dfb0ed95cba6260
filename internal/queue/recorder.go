package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder is an in-memory Enqueuer that keeps every task it is given.
type Recorder struct {
	mu    sync.Mutex
	tasks []Task
}

func (r *Recorder) Enqueue(_ context.Context, name TaskName, args interface{}, notBefore time.Time) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, Task{
		ID:        uuid.NewString(),
		Name:      name,
		Args:      body,
		NotBefore: notBefore,
		CreatedAt: time.Now(),
	})
	return nil
}

// Tasks returns the recorded tasks with the given name, or all of them when name is empty.
func (r *Recorder) Tasks(name TaskName) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Task
	for _, t := range r.tasks {
		if name == "" || t.Name == name {
			out = append(out, t)
		}
	}
	return out
}
