// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package threadpool provides a fixed-size set of workers executing
// short tasks with fork/join semantics, used by the simulation back-ends.
//
// Tasks are taken from a single shared queue guarded by a mutex and a
// condition variable. [Pool.Dispatch] followed by [Pool.WaitIdle] is the
// fence that orders one batch of tasks before the next.
package threadpool

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// TaskID identifies a task submitted with [Pool.Enqueue].
// The zero TaskID is never issued.
type TaskID uint64

type task struct {
	fn    func(int)
	index int
	id    TaskID
}

// Pool is a fixed set of worker goroutines. It must be created with [New].
type Pool struct {
	mu sync.Mutex

	// work is signaled when tasks are queued or the pool closes.
	work *sync.Cond

	// done is broadcast whenever a task finishes.
	done *sync.Cond

	queue []task

	// pending counts tasks queued or running.
	pending int

	// outstanding holds the Enqueue tasks that have not finished.
	outstanding map[TaskID]struct{}
	lastID      TaskID

	workers int
	closed  bool
	wg      sync.WaitGroup
}

// New starts a pool of n workers. If n is less than 1,
// [runtime.NumCPU] workers are started.
func New(n int) *Pool {
	if n < 1 {
		n = runtime.NumCPU()
	}
	p := &Pool{workers: n, outstanding: map[TaskID]struct{}{}}
	p.work = sync.NewCond(&p.mu)
	p.done = sync.NewCond(&p.mu)
	p.wg.Add(n)
	for range n {
		go p.worker()
	}
	slog.Debug("threadpool: started", "workers", n)
	return p
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// Dispatch submits count instances of fn, called with the indexes
// 0 through count-1, and returns immediately. The order in which the
// instances run is unspecified.
func (p *Pool) Dispatch(count int, fn func(index int)) {
	if count <= 0 {
		return
	}
	p.mu.Lock()
	p.checkOpen()
	for i := range count {
		p.queue = append(p.queue, task{fn: fn, index: i})
	}
	p.pending += count
	p.mu.Unlock()
	p.work.Broadcast()
}

// Enqueue submits a single task and returns an id that can be passed
// to [Pool.Wait].
func (p *Pool) Enqueue(fn func()) TaskID {
	p.mu.Lock()
	p.checkOpen()
	p.lastID++
	id := p.lastID
	p.outstanding[id] = struct{}{}
	p.queue = append(p.queue, task{fn: func(int) { fn() }, id: id})
	p.pending++
	p.mu.Unlock()
	p.work.Signal()
	return id
}

// Wait blocks until the task with the given id has finished.
// It returns immediately for ids that have already finished.
func (p *Pool) Wait(id TaskID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if _, ok := p.outstanding[id]; !ok {
			return
		}
		p.done.Wait()
	}
}

// WaitIdle blocks until every task submitted so far has finished.
func (p *Pool) WaitIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.done.Wait()
	}
}

// Run dispatches count instances of fn and waits for the pool to be idle.
func (p *Pool) Run(count int, fn func(index int)) {
	p.Dispatch(count, fn)
	p.WaitIdle()
}

// Close runs the remaining queued tasks, then stops and joins the workers.
// The pool must not be used after Close.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.work.Broadcast()
	p.wg.Wait()
	slog.Debug("threadpool: stopped", "workers", p.workers)
}

// checkOpen must be called with p.mu held.
func (p *Pool) checkOpen() {
	if p.closed {
		panic(fmt.Errorf("threadpool: task submitted to a closed pool"))
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	p.mu.Lock()
	for {
		for len(p.queue) == 0 && !p.closed {
			p.work.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue[0] = task{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		t.fn(t.index)

		p.mu.Lock()
		p.pending--
		if t.id != 0 {
			delete(p.outstanding, t.id)
		}
		p.done.Broadcast()
	}
}
