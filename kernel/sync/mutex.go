// Package sync provides the blocking mutex used by kernel subsystems that
// are shared between tasks.
package sync

import (
	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/kfmt"
	"github.com/zhangkepi/my-os/kernel/task"
)

var (
	// ErrNotOwner is returned when a task releases a mutex it does not hold.
	ErrNotOwner = &kernel.Error{Module: "sync", Message: "mutex released by a task that does not own it"}
)

// Mutex is a recursive lock with a FIFO queue of blocked tasks. A contended
// Lock suspends the calling task; Unlock hands ownership directly to the
// oldest waiter.
//
// Before the scheduler starts there is no current task and the mutex
// degrades to a nesting counter.
type Mutex struct {
	sched *task.Manager
	log   *log.Entry

	count   int
	owner   *task.Task
	waiters task.WaitQueue
}

// NewMutex returns an unlocked mutex that blocks tasks through sched.
func NewMutex(sched *task.Manager) *Mutex {
	return &Mutex{
		sched: sched,
		log:   kfmt.Module("sync"),
	}
}

// Lock acquires the mutex. If another task owns it the calling task is
// queued and the scheduler switches away; the task resumes once Unlock
// makes it the owner.
func (mu *Mutex) Lock() {
	state := mu.sched.EnterProtection()
	defer mu.sched.LeaveProtection(state)

	cur := mu.sched.Current()
	switch {
	case mu.count == 0:
		mu.owner = cur
		mu.count = 1
	case mu.owner == cur:
		mu.count++
	default:
		mu.sched.EnqueueWaiter(&mu.waiters, cur, task.StateBlocked)
		mu.sched.Dispatch()
	}
}

// Release drops one level of ownership. When the count reaches zero the
// oldest waiter becomes the owner and is made ready.
func (mu *Mutex) Release() *kernel.Error {
	state := mu.sched.EnterProtection()
	defer mu.sched.LeaveProtection(state)

	if mu.count == 0 || mu.owner != mu.sched.Current() {
		return ErrNotOwner
	}

	if mu.count--; mu.count > 0 {
		return nil
	}

	mu.owner = nil
	if next := mu.sched.DequeueWaiter(&mu.waiters); next != nil {
		mu.owner = next
		mu.count = 1
		mu.sched.Ready(next)
		mu.sched.Dispatch()
	}

	return nil
}

// Unlock implements sync.Locker. Unlocking a mutex held by another task
// leaves it untouched and logs the offending task.
func (mu *Mutex) Unlock() {
	if err := mu.Release(); err != nil {
		entry := mu.log
		if cur := mu.sched.Current(); cur != nil {
			entry = entry.WithFields(log.Fields{"pid": cur.PID(), "task": cur.Name()})
		}
		entry.WithError(err).Warn("[sync] ignoring unlock")
	}
}

// Owner returns the owning task or nil.
func (mu *Mutex) Owner() *task.Task { return mu.owner }

// Count returns the recursion depth of the current owner.
func (mu *Mutex) Count() int { return mu.count }

// Waiters returns the number of tasks blocked on the mutex.
func (mu *Mutex) Waiters() int { return mu.waiters.Len() }
