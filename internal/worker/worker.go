// Package worker drains the delayed task queue and runs the engine's
// background operations: external refund retries, failed payment retries and
// the stale refund sweep.
package worker

import (
	"context"
	"fmt"
	"time"

	"paycore/internal/queue"

	"github.com/sirupsen/logrus"
)

// Source is the part of queue.Queue the worker consumes. A dequeued task must
// be settled with Ack or Retry.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Task, error)
	Ack(ctx context.Context, task *queue.Task) error
	Retry(ctx context.Context, task *queue.Task, cause error) error
}

type HandlerFunc func(ctx context.Context, task *queue.Task) error

type Worker struct {
	source       Source
	handlers     map[queue.TaskName]HandlerFunc
	pollInterval time.Duration
	logger       *logrus.Entry
}

func New(source Source, pollInterval time.Duration, logger *logrus.Entry) *Worker {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		source:       source,
		handlers:     make(map[queue.TaskName]HandlerFunc),
		pollInterval: pollInterval,
		logger:       logger.WithField("component", "worker"),
	}
}

// Handle registers the handler for a task name, replacing any earlier one.
func (w *Worker) Handle(name queue.TaskName, fn HandlerFunc) {
	w.handlers[name] = fn
}

// Process executes one task.
func (w *Worker) Process(ctx context.Context, task *queue.Task) error {
	fn, ok := w.handlers[task.Name]
	if !ok {
		return fmt.Errorf("unknown task: %s", task.Name)
	}
	return fn(ctx, task)
}

// Run drains due tasks until ctx is cancelled, sleeping pollInterval whenever
// the queue is empty. A finished task is acked; a failed one goes back
// through Source.Retry.
func (w *Worker) Run(ctx context.Context) {
	w.logger.WithField("tasks", len(w.handlers)).Info("worker started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-timer.C:
		}

		for ctx.Err() == nil {
			if !w.runOnce(ctx) {
				break
			}
		}
		timer.Reset(w.pollInterval)
	}
}

// runOnce processes at most one task and reports whether one was found.
func (w *Worker) runOnce(ctx context.Context) bool {
	task, err := w.source.Dequeue(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("dequeue failed")
		return false
	}
	if task == nil {
		return false
	}

	log := w.logger.WithFields(logrus.Fields{"task_id": task.ID, "task": task.Name, "attempt": task.Attempt})
	started := time.Now()
	if err := w.Process(ctx, task); err != nil {
		log.WithError(err).Error("task failed")
		if reErr := w.source.Retry(ctx, task, err); reErr != nil {
			log.WithError(reErr).Error("task retry failed")
		}
		return true
	}
	if err := w.source.Ack(ctx, task); err != nil {
		// The lease expires and the task runs again; handlers are idempotent.
		log.WithError(err).Warn("task ack failed")
	}
	log.WithField("duration", time.Since(started)).Debug("task done")
	return true
}
