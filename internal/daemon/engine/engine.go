// Package engine runs the daemon's background workers.
package engine

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Worker is a long-running background job.
type Worker interface {
	// Name returns the worker's name for logging.
	Name() string

	// Run blocks until ctx is canceled.
	Run(ctx context.Context) error
}

// Engine manages and runs all workers.
type Engine struct {
	workers []Worker
	logger  *logrus.Entry
}

func New(logger *logrus.Entry) *Engine {
	return &Engine{logger: logger}
}

// Register adds a worker. Workers registered after Start are not run.
func (e *Engine) Register(w Worker) {
	e.workers = append(e.workers, w)
}

// Start runs every worker and blocks until all of them return.
func (e *Engine) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range e.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			log := e.logger.WithField("worker", w.Name())
			log.Debug("Starting worker")
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("Worker failed")
			}
		}(w)
	}
	wg.Wait()
}
