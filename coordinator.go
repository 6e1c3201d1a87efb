package localmr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Coordinator leases map and reduce tasks to workers with at-least-once
// semantics. It seeds one map task per input file, materializes the reduce
// tasks exactly once after the last map completes, reclaims expired leases
// through a periodic sweeper, and hands out finish sentinels once both
// phases are done.
type Coordinator struct {
	mu     sync.Mutex
	idle   []*Task          // FIFO queue of tasks awaiting lease
	leased map[string]*Task // tasks currently in flight, by lease key

	// mapTasks keeps every map record so reduce materialization can read
	// their outputs.
	mapTasks []*Task

	nMap    int
	nReduce int

	mapDone      int
	reduceDone   int
	reducesBuilt bool
	finished     bool

	// avail is the counted availability signal: one token per task put
	// into the idle queue, one consumed per successful lease.
	avail chan struct{}

	// done is closed once when both counters reach their targets or on
	// Shutdown, draining every blocked GetTask.
	done      chan struct{}
	stopSweep chan struct{}

	cfg    Config
	logger *zap.Logger
}

// NewCoordinator seeds a coordinator with one map task per input file and a
// reducer fan-out of nReduce. A nil logger disables logging.
func NewCoordinator(files []string, nReduce int, cfg Config, logger *zap.Logger) (*Coordinator, error) {
	if len(files) == 0 {
		return nil, wrapKind(ErrValidation, errors.New("no input files provided"))
	}
	if nReduce <= 0 {
		return nil, wrapKind(ErrValidation, errors.Errorf("invalid number of reduce tasks: %d", nReduce))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		leased:    make(map[string]*Task),
		mapTasks:  make([]*Task, 0, len(files)),
		nMap:      len(files),
		nReduce:   nReduce,
		avail:     make(chan struct{}, len(files)+nReduce),
		done:      make(chan struct{}),
		stopSweep: make(chan struct{}),
		cfg:       cfg,
		logger:    logger,
	}
	for i, file := range files {
		t := newMapTask(i, file, nReduce)
		c.mapTasks = append(c.mapTasks, t)
		c.idle = append(c.idle, t)
	}
	c.signal(c.nMap)

	go c.sweep()
	return c, nil
}

// leaseKey identifies a task in the leased set. Map and reduce ids overlap,
// so the kind is part of the key.
func leaseKey(kind TaskKind, id int) string {
	return fmt.Sprintf("%s/%d", kind, id)
}

// signal releases n units of the availability signal. The channel capacity
// covers every task the job can ever queue, so the send never blocks.
func (c *Coordinator) signal(n int) {
	for i := 0; i < n; i++ {
		select {
		case c.avail <- struct{}{}:
		default:
		}
	}
}

// GetTask returns the next task to execute, blocking while the idle queue is
// empty but tasks may still arrive. Once the job is done, shut down, or ctx
// is cancelled, it returns a finish sentinel immediately.
//
// GetTask never blocks while holding the coordinator lock, so reports and
// the sweeper always make progress.
func (c *Coordinator) GetTask(ctx context.Context) *Task {
	for {
		select {
		case <-c.done:
			return newFinishTask()
		case <-ctx.Done():
			return newFinishTask()
		default:
		}

		select {
		case <-c.done:
			return newFinishTask()
		case <-ctx.Done():
			return newFinishTask()
		case <-c.avail:
			if t := c.lease(); t != nil {
				return t
			}
			// Spurious wake: the queue was drained by a concurrent
			// lease or a shutdown. Re-check done-ness and wait again.
		}
	}
}

func (c *Coordinator) lease() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.idle) == 0 {
		return nil
	}
	t := c.idle[0]
	c.idle = c.idle[1:]
	t.Status = InProgress
	t.LeaseStart = time.Now()
	c.leased[leaseKey(t.Kind, t.ID)] = t
	c.logger.Debug("task leased", zap.String("kind", string(t.Kind)), zap.Int("task", t.ID))
	return t
}

// ReportTask accepts a completed task. Reports for tasks no longer in the
// leased set are discarded silently: they come from workers whose lease
// expired and whose task has been handed to someone else.
func (c *Coordinator) ReportTask(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := leaseKey(t.Kind, t.ID)
	if _, ok := c.leased[key]; !ok {
		c.logger.Debug("discarding late report", zap.String("kind", string(t.Kind)), zap.Int("task", t.ID))
		return
	}
	delete(c.leased, key)
	t.Status = Completed
	c.logger.Debug("task completed", zap.String("kind", string(t.Kind)), zap.Int("task", t.ID))

	switch t.Kind {
	case MapTask:
		c.mapDone++
		if c.mapDone == c.nMap && !c.reducesBuilt {
			c.reducesBuilt = true
			c.buildReduces()
		}
	case ReduceTask:
		c.reduceDone++
		if c.reduceDone == c.nReduce {
			c.finishLocked()
		}
	}
}

// buildReduces materializes the reduce phase: bucket b consumes the b-th
// output of every completed map task. Runs exactly once, under the lock,
// guarded by the reducesBuilt latch.
func (c *Coordinator) buildReduces() {
	for b := 0; b < c.nReduce; b++ {
		inputs := make([]string, 0, c.nMap)
		for _, mt := range c.mapTasks {
			inputs = append(inputs, mt.Outputs()[b])
		}
		c.idle = append(c.idle, newReduceTask(b, inputs, c.nReduce))
	}
	c.signal(c.nReduce)
	c.logger.Info("map phase complete, reduce tasks queued", zap.Int("reduces", c.nReduce))
}

// Done reports whether every map and reduce task has completed.
func (c *Coordinator) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapDone == c.nMap && c.reduceDone == c.nReduce
}

// Wait blocks until the job completes, Shutdown is called, or ctx expires.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown drops all queued and leased tasks, forces the counters to their
// targets, stops the sweeper, and wakes every worker blocked in GetTask so
// it receives a finish sentinel. Safe to call more than once.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idle = nil
	c.leased = make(map[string]*Task)
	c.mapDone = c.nMap
	c.reduceDone = c.nReduce
	c.finishLocked()
}

func (c *Coordinator) finishLocked() {
	if c.finished {
		return
	}
	c.finished = true
	close(c.done)
	close(c.stopSweep)
	c.logger.Info("job finished", zap.Int("maps", c.nMap), zap.Int("reduces", c.nReduce))
}

// sweep reclaims expired leases every TaskCheckInterval after an initial
// delay of TaskCheckInitialInterval.
func (c *Coordinator) sweep() {
	initial := time.NewTimer(c.cfg.checkInitialInterval())
	defer initial.Stop()
	select {
	case <-initial.C:
	case <-c.stopSweep:
		return
	}

	ticker := time.NewTicker(c.cfg.checkInterval())
	defer ticker.Stop()
	for {
		c.requeueExpired()
		select {
		case <-ticker.C:
		case <-c.stopSweep:
			return
		}
	}
}

// requeueExpired atomically removes timed-out tasks from the leased set and
// pushes them back onto the idle queue. A timely report from the original
// worker either wins the race (the sweeper finds nothing) or loses it (the
// late report finds its key absent and is discarded).
func (c *Coordinator) requeueExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, t := range c.leased {
		if t.Status != InProgress || now.Sub(t.LeaseStart) <= c.cfg.taskTimeout() {
			continue
		}
		delete(c.leased, key)
		t.Status = Idle
		t.LeaseStart = time.Time{}
		c.idle = append(c.idle, t)
		c.signal(1)
		c.logger.Warn("lease expired, task requeued",
			zap.String("kind", string(t.Kind)),
			zap.Int("task", t.ID))
	}
}
