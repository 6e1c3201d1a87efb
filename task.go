package localmr

import (
	"sync"
	"time"
)

// Task is the unit of work exchanged between the coordinator and workers.
// Identity (ID, Kind, Inputs, NReduce, Bucket) is fixed at creation; the
// lease fields are owned by the coordinator and mutated only under its lock;
// the outputs slot is written once by the worker that completes the task.
type Task struct {
	// ID is the input-file index for map tasks, the bucket index for
	// reduce tasks, and -1 for the finish sentinel.
	ID int

	Kind TaskKind

	// Inputs is the single source file for a map task, or the nMap shard
	// names feeding one bucket for a reduce task.
	Inputs []string

	// NReduce is the reducer fan-out, propagated so workers can partition.
	NReduce int

	// Bucket is the reduce bucket index; -1 for non-reduce tasks.
	Bucket int

	// Status and LeaseStart are lease bookkeeping, mutated by the
	// coordinator under its own lock.
	Status     TaskStatus
	LeaseStart time.Time

	mu      sync.Mutex
	outputs []string
}

func newMapTask(id int, file string, nReduce int) *Task {
	return &Task{
		ID:      id,
		Kind:    MapTask,
		Inputs:  []string{file},
		NReduce: nReduce,
		Bucket:  -1,
	}
}

func newReduceTask(bucket int, inputs []string, nReduce int) *Task {
	return &Task{
		ID:      bucket,
		Kind:    ReduceTask,
		Inputs:  inputs,
		NReduce: nReduce,
		Bucket:  bucket,
	}
}

// newFinishTask builds the sentinel handed to workers once the job is done
// or shut down.
func newFinishTask() *Task {
	return &Task{
		ID:     -1,
		Kind:   FinishTask,
		Inputs: []string{""},
		Bucket: -1,
	}
}

// SetOutputs publishes the task's output file names. Only the first call
// takes effect: a retried instance of the same task reporting later finds
// the slot filled and leaves it alone.
func (t *Task) SetOutputs(names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outputs != nil {
		return
	}
	t.outputs = append([]string(nil), names...)
}

// Outputs returns the published output names, or nil if the task has not
// published yet.
func (t *Task) Outputs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outputs
}
