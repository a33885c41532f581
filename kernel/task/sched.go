package task

import (
	"github.com/zhangkepi/my-os/kernel/kfmt"
)

// Start marks t ready to run.
func (m *Manager) Start(t *Task) {
	state := m.prot.EnterProtection()
	m.Ready(t)
	m.prot.LeaveProtection(state)
}

// Next returns the task that should run next: the head of the ready list or
// the idle task when no task is ready.
func (m *Manager) Next() *Task {
	if t := m.front(&m.ready); t != nil {
		return t
	}

	return m.idle
}

// Dispatch switches the CPU to the task returned by Next if it differs from
// the running task.
func (m *Manager) Dispatch() {
	state := m.prot.EnterProtection()
	defer m.prot.LeaveProtection(state)

	to := m.Next()
	if to == nil || to == m.current {
		return
	}

	from := m.current
	m.current = to
	to.state = StateRunning

	if from == nil {
		m.sw.SwitchContext(nil, &to.Context)
		return
	}

	m.sw.SwitchContext(&from.Context, &to.Context)
}

// Ready appends t to the tail of the ready list. The idle task never joins
// the ready list.
func (m *Manager) Ready(t *Task) {
	if t == m.idle {
		return
	}

	m.pushBack(&m.ready, runLink, t)
	t.state = StateReady
}

// Block removes t from the ready list.
func (m *Manager) Block(t *Task) {
	if t == m.idle {
		return
	}

	m.remove(&m.ready, runLink, t)
	t.state = StateBlocked
}

// Sleep moves t to the sleep list for the given number of ticks.
func (m *Manager) Sleep(t *Task, ticks int) {
	if ticks <= 0 {
		return
	}

	t.sleepTicks = ticks
	t.state = StateSleep
	m.pushBack(&m.sleep, runLink, t)
}

// Wake removes t from the sleep list.
func (m *Manager) Wake(t *Task) {
	m.remove(&m.sleep, runLink, t)
}

// Suspend takes t off the ready list and records state as the reason.
func (m *Manager) Suspend(t *Task, state State) {
	m.Block(t)
	t.state = state
}

// Tick is the timer interrupt handler. It charges the running task one tick
// of its time slice, rotating it to the tail of the ready list when the
// slice expires, counts down sleeping tasks and finally dispatches.
func (m *Manager) Tick() {
	state := m.prot.EnterProtection()
	defer m.prot.LeaveProtection(state)

	if cur := m.current; cur != nil && cur != m.idle {
		cur.sliceTicks--
		if cur.sliceTicks <= 0 {
			cur.sliceTicks = cur.timeSlice
			if cur.state == StateRunning {
				m.Block(cur)
				m.Ready(cur)
			}
		}
	}

	m.visit(&m.sleep, runLink, func(t *Task) bool {
		t.sleepTicks--
		if t.sleepTicks <= 0 {
			m.Wake(t)
			m.Ready(t)
		}
		return true
	})

	m.Dispatch()
}

// Yield moves the running task to the tail of the ready list when another
// task is ready and dispatches.
func (m *Manager) Yield() {
	state := m.prot.EnterProtection()
	defer m.prot.LeaveProtection(state)

	if m.ready.Len() > 1 {
		cur := m.current
		m.Block(cur)
		m.Ready(cur)
		m.Dispatch()
	}
}

// SleepMS puts the running task to sleep for at least ms milliseconds.
// Requests shorter than one tick sleep for one tick.
func (m *Manager) SleepMS(ms int) {
	if ms < m.cfg.TickMS {
		ms = m.cfg.TickMS
	}
	ticks := (ms + m.cfg.TickMS - 1) / m.cfg.TickMS

	state := m.prot.EnterProtection()
	defer m.prot.LeaveProtection(state)

	cur := m.current
	kfmt.Assert(cur != nil && cur != m.idle, "sleep called outside of a user task")

	m.Block(cur)
	m.Sleep(cur, ticks)
	m.Dispatch()
}

// GetPID returns the PID of the running task.
func (m *Manager) GetPID() int {
	if m.current == nil {
		return -1
	}

	return m.current.pid
}

// WaitQueue is a FIFO of tasks blocked on a resource.
type WaitQueue struct {
	list List
}

// Len returns the number of queued waiters.
func (q *WaitQueue) Len() int {
	return q.list.Len()
}

// EnqueueWaiter takes t off the ready list, records state as the reason and
// appends t to q.
func (m *Manager) EnqueueWaiter(q *WaitQueue, t *Task, state State) {
	m.Block(t)
	t.state = state
	m.pushBack(&q.list, waitLink, t)
}

// DequeueWaiter removes and returns the oldest waiter in q or nil if q is
// empty. The returned task is not made ready.
func (m *Manager) DequeueWaiter(q *WaitQueue) *Task {
	return m.popFront(&q.list, waitLink)
}
