package localmr

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job assembles a coordinator and a worker pool over a set of input files.
type Job struct {
	Config Config

	// Files are the map inputs, resolved relative to Config.Root.
	Files []string

	// NReduce is the reducer fan-out.
	NReduce int

	Map    MapFunc
	Reduce ReduceFunc

	// Store overrides the staging store; nil builds a FileStore under
	// Config.Root.
	Store Store

	// Logger is optional; nil disables logging.
	Logger *zap.Logger
}

// Run executes the job to completion: it seeds the coordinator, starts
// Config.Workers worker loops, waits until every map and reduce task has
// been reported, and shuts the coordinator down so all loops drain.
func (j *Job) Run(ctx context.Context) error {
	if err := j.Config.Validate(); err != nil {
		return err
	}
	logger := j.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := j.Store
	if store == nil {
		store = NewFileStore(j.Config.Root, logger)
	}

	coord, err := NewCoordinator(j.Files, j.NReduce, j.Config, logger)
	if err != nil {
		return err
	}
	defer coord.Shutdown()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < j.Config.Workers; i++ {
		w := &Worker{
			Coordinator: coord,
			Map:         j.Map,
			Reduce:      j.Reduce,
			Store:       store,
			Logger:      logger.With(zap.Int("worker", i)),
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	waitErr := coord.Wait(ctx)
	coord.Shutdown()
	if err := g.Wait(); err != nil {
		return err
	}
	return waitErr
}
