// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package sched specifies the scheduler operations the IPC core depends on
// (spec.md §2: "the scheduler is specified only by the three operations
// the IPC core uses") and ships an in-process default so the core is
// runnable and testable standalone, outside a real kernel.
package sched

import (
	"sync"
	"time"
)

// State is a receiver pid's scheduling state, per spec.md §4.4.5's state
// machine.
type State int

const (
	// Idle is a pid that has neither called listen nor is blocked in recv.
	Idle State = iota
	// Listening is a pid awaiting direct hand-off or a queued delivery.
	Listening
	// Blocked is a pid suspended inside a blocking recv's condvar wait.
	Blocked
)

// Scheduler is the external collaborator interface the IPC core calls
// into. A real kernel's process table implements this; Default below is a
// standalone stand-in.
type Scheduler interface {
	// Enqueue marks pid runnable and appends it to the ready queue.
	Enqueue(pid int64)
	// Unblock restores a pid blocked by BlockOn to runnable.
	Unblock(pid int64)
	// YieldTo is a cooperative transfer of control preference to pid; it
	// does not preempt the caller, it only records pid as "preferred for
	// the next scheduling decision" (spec.md §9, yield_to open question).
	YieldTo(pid int64)
	// BlockOn suspends pid, recording a wake deadline the scheduler may
	// use for diagnostics; the IPC core itself enforces the 100ms
	// deadline via the graph's condition variable, not through this call.
	BlockOn(pid int64, timeout time.Duration)
}

// Default is an in-process Scheduler tracking each pid's State and a
// preferred-next pid, sufficient for the standalone/test operation of the
// IPC core outside a real kernel.
type Default struct {
	mu        sync.Mutex
	states    map[int64]State
	ready     []int64
	preferred int64
}

// NewDefault returns an empty Default scheduler.
func NewDefault() *Default {
	return &Default{states: make(map[int64]State)}
}

// Enqueue implements Scheduler.
func (d *Default) Enqueue(pid int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[pid] = Idle
	d.ready = append(d.ready, pid)
}

// Unblock implements Scheduler.
func (d *Default) Unblock(pid int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[pid] = Idle
}

// YieldTo implements Scheduler. It moves pid to the front of the ready
// queue, so it is preferred for the next scheduling decision, per
// spec.md §9's resolution of the yield_to open question.
func (d *Default) YieldTo(pid int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preferred = pid

	filtered := d.ready[:0]
	for _, p := range d.ready {
		if p != pid {
			filtered = append(filtered, p)
		}
	}
	d.ready = append([]int64{pid}, filtered...)
}

// BlockOn implements Scheduler.
func (d *Default) BlockOn(pid int64, timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[pid] = Blocked
}

// StateOf reports pid's last recorded scheduling state; pids never seen
// report Idle.
func (d *Default) StateOf(pid int64) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[pid]
}

// Current returns the pid most recently preferred by YieldTo, used by
// tests asserting spec.md §8 scenario 2's "scheduler current == 2".
func (d *Default) Current() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.preferred
}
