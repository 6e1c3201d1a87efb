package localmr

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Worker pulls tasks from a coordinator, executes them against the staging
// store, and reports completions. Workers are interchangeable; run as many
// loops as the pool size allows.
type Worker struct {
	Coordinator *Coordinator
	Map         MapFunc
	Reduce      ReduceFunc
	Store       Store
	Logger      *zap.Logger
}

func (w *Worker) validate() error {
	switch {
	case w.Coordinator == nil:
		return wrapKind(ErrValidation, errors.New("worker has no coordinator"))
	case w.Map == nil:
		return wrapKind(ErrValidation, errors.New("worker has no map function"))
	case w.Reduce == nil:
		return wrapKind(ErrValidation, errors.New("worker has no reduce function"))
	case w.Store == nil:
		return wrapKind(ErrValidation, errors.New("worker has no staging store"))
	}
	return nil
}

// validateTask rejects malformed task records. Leased tasks must arrive
// in-progress; the finish sentinel bypasses the payload checks.
func validateTask(t *Task) error {
	if t == nil {
		return wrapKind(ErrValidation, errors.New("nil task"))
	}
	switch t.Kind {
	case FinishTask:
		return nil
	case MapTask, ReduceTask:
	default:
		return wrapKind(ErrValidation, errors.Errorf("unknown task kind %q", t.Kind))
	}
	if t.ID < 0 {
		return wrapKind(ErrValidation, errors.Errorf("negative id %d for %s task", t.ID, t.Kind))
	}
	if len(t.Inputs) == 0 {
		return wrapKind(ErrValidation, errors.Errorf("%s task %d has no inputs", t.Kind, t.ID))
	}
	if t.Status != InProgress {
		return wrapKind(ErrValidation, errors.Errorf("%s task %d arrived %s, want in-progress", t.Kind, t.ID, t.Status))
	}
	return nil
}

// Run executes tasks until a finish sentinel arrives or ctx is cancelled.
// Task-level failures are logged and left to the lease sweeper; only a
// malformed configuration or task is fatal.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.validate(); err != nil {
		return err
	}
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for {
		t := w.Coordinator.GetTask(ctx)
		if err := validateTask(t); err != nil {
			return err
		}
		if t.Kind == FinishTask {
			return nil
		}

		var err error
		switch t.Kind {
		case MapTask:
			err = w.runMap(t)
		case ReduceTask:
			err = w.runReduce(t, logger)
		}
		if err != nil {
			// The lease will expire and the task will be retried.
			logger.Error("task failed",
				zap.String("kind", string(t.Kind)),
				zap.Int("task", t.ID),
				zap.Error(err))
		}
	}
}

// runMap reads the task's single input, partitions the mapped entries into
// NReduce buckets, and publishes one shard per bucket. Empty buckets still
// publish an empty shard so reducers read uniformly.
func (w *Worker) runMap(t *Task) error {
	content, err := w.Store.ReadFile(t.Inputs[0], t.ID, MapTask)
	if err != nil {
		return err
	}
	kva := w.Map(t.Inputs[0], string(content))

	buckets := make([][]KeyValue, t.NReduce)
	for _, kv := range kva {
		b := ihash(kv.Key) % t.NReduce
		buckets[b] = append(buckets[b], kv)
	}

	names := make([]string, t.NReduce)
	for b, entries := range buckets {
		name := shardName(t.ID, b)
		if err := w.Store.Write(entries, name, t.ID, MapTask); err != nil {
			return err
		}
		names[b] = name
	}

	t.SetOutputs(names)
	w.Coordinator.ReportTask(t)
	return nil
}

// runReduce groups the entries of every input shard by key, reduces each
// group in lexicographic key order, publishes the bucket's single output,
// and erases the consumed shards.
func (w *Worker) runReduce(t *Task, logger *zap.Logger) error {
	groups := make(map[string][]string)
	for _, name := range t.Inputs {
		entries, err := w.Store.ReadEntries(name, t.ID, ReduceTask)
		if err != nil {
			return err
		}
		for _, kv := range entries {
			groups[kv.Key] = append(groups[kv.Key], kv.Value)
		}
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, KeyValue{Key: key, Value: w.Reduce(key, groups[key])})
	}

	name := outputName(t.Bucket)
	if err := w.Store.Write(out, name, t.ID, ReduceTask); err != nil {
		return err
	}
	t.SetOutputs([]string{name})
	w.Coordinator.ReportTask(t)

	// A report from an expired lease is discarded and the task requeued;
	// the inputs then stay in place for the instance that runs it next.
	w.Coordinator.mu.Lock()
	accepted := t.Status == Completed
	w.Coordinator.mu.Unlock()
	if !accepted {
		return nil
	}

	// The task is already complete; a cleanup failure only leaves stale
	// intermediates behind.
	if err := w.Store.ClearFiles(t.Inputs, t.ID, ReduceTask); err != nil {
		logger.Warn("could not clear intermediate files",
			zap.Int("task", t.ID),
			zap.Error(err))
	}
	return nil
}
