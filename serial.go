package imageload

import "sync"

// serialQueue runs tasks one at a time, in enqueue order, on a single
// goroutine. Quality mutations decided on arbitrary threads all funnel
// through one of these, so any reader observes them in assignment order; a
// later write can never be overtaken by an earlier one issued from another
// goroutine.
//
// enqueue never blocks. Callers hold the loader's mutex while enqueueing and
// the tasks themselves take that mutex, so a bounded channel here could
// deadlock against its own consumer.
type serialQueue struct {
	mtx     sync.Mutex
	cond    *sync.Cond
	pending []func()
	stopped bool
	wait    sync.WaitGroup
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{}
	q.cond = sync.NewCond(&q.mtx)
	q.wait.Add(1)
	go q.loop()
	return q
}

func (q *serialQueue) loop() {
	defer q.wait.Done()
	for {
		q.mtx.Lock()
		for len(q.pending) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mtx.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.mtx.Unlock()
		task()
	}
}

// enqueue adds a task. After stop it is a no-op.
func (q *serialQueue) enqueue(task func()) {
	q.mtx.Lock()
	if !q.stopped {
		q.pending = append(q.pending, task)
		q.cond.Signal()
	}
	q.mtx.Unlock()
}

// stop discards pending tasks and waits for the worker to exit.
func (q *serialQueue) stop() {
	q.mtx.Lock()
	q.stopped = true
	q.pending = nil
	q.cond.Signal()
	q.mtx.Unlock()
	q.wait.Wait()
}
