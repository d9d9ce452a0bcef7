// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// dispatcher runs every user callback (event callback, bound RPC function,
// response callback) on a small fixed pool of workers, so transport callback
// goroutines never execute user code while the registry lock is held. Tasks
// are keyed by connection id and a key always lands on the same worker,
// which keeps callbacks for one connection in submission order: Open before
// Ready, every message callback in wire order, Close last.

package rpc

import (
	"sync"

	"github.com/eapache/queue"
)

type dispatcher struct {
	workers []*dispatchWorker
	wg      sync.WaitGroup
}

type dispatchWorker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	closed bool
}

func newDispatcher(workers int) *dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &dispatcher{}
	for i := 0; i < workers; i++ {
		w := &dispatchWorker{q: queue.New()}
		w.cond = sync.NewCond(&w.mu)
		d.workers = append(d.workers, w)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			w.run()
		}()
	}
	return d
}

// Submit enqueues task on the worker owning key. It never blocks the caller
// and never runs task synchronously, so the caller's lock (if any) is never
// held across task's execution. Tasks sharing a key execute in submission
// order.
func (d *dispatcher) Submit(key int, task func()) {
	if key < 0 {
		key = -key
	}
	w := d.workers[key%len(d.workers)]
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.q.Add(task)
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *dispatchWorker) run() {
	for {
		w.mu.Lock()
		for w.q.Length() == 0 && !w.closed {
			w.cond.Wait()
		}
		if w.q.Length() == 0 && w.closed {
			w.mu.Unlock()
			return
		}
		item := w.q.Remove()
		w.mu.Unlock()

		if task, ok := item.(func()); ok {
			task()
		}
	}
}

// Close stops accepting new tasks and waits for queued and in-flight tasks
// to finish draining.
func (d *dispatcher) Close() {
	for _, w := range d.workers {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.cond.Broadcast()
	}
	d.wg.Wait()
}
