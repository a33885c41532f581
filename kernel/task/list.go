package task

import "github.com/zhangkepi/my-os/kernel/kfmt"

// linkKind selects one of the list links embedded in every task. A task can
// be a member of at most one list per link kind: the ready and sleep lists
// share the run link so a task can never be both ready and sleeping.
type linkKind uint8

const (
	runLink linkKind = iota
	allLink
	waitLink
	linkKinds
)

type link struct {
	prev, next ID
	list       *List
}

// List is an intrusive FIFO list of tasks. Lists store task IDs; the links
// live inside the tasks themselves. The zero value is an empty list.
type List struct {
	head, tail ID
	count      int
}

// Len returns the number of tasks in the list.
func (l *List) Len() int {
	return l.count
}

// pushBack appends t to the tail of l using the link of the given kind.
func (m *Manager) pushBack(l *List, kind linkKind, t *Task) {
	lnk := &t.links[kind]
	kfmt.Assert(lnk.list == nil, "task %d is already linked (kind %d)", t.id, kind)

	lnk.list = l
	lnk.prev = l.tail
	lnk.next = InvalidID

	if tail := m.lookup(l.tail); tail != nil {
		tail.links[kind].next = t.id
	} else {
		l.head = t.id
	}

	l.tail = t.id
	l.count++
}

// remove unlinks t from l. Removing a task that is not a member of l is a
// no-op.
func (m *Manager) remove(l *List, kind linkKind, t *Task) {
	lnk := &t.links[kind]
	if lnk.list != l {
		return
	}

	if prev := m.lookup(lnk.prev); prev != nil {
		prev.links[kind].next = lnk.next
	} else {
		l.head = lnk.next
	}

	if next := m.lookup(lnk.next); next != nil {
		next.links[kind].prev = lnk.prev
	} else {
		l.tail = lnk.prev
	}

	*lnk = link{}
	l.count--
}

// popFront removes and returns the head of l or nil if l is empty.
func (m *Manager) popFront(l *List, kind linkKind) *Task {
	t := m.lookup(l.head)
	if t != nil {
		m.remove(l, kind, t)
	}

	return t
}

// front returns the head of l without removing it.
func (m *Manager) front(l *List) *Task {
	return m.lookup(l.head)
}

// visit invokes fn for every task in l in list order. fn may unlink the
// task it receives.
func (m *Manager) visit(l *List, kind linkKind, fn func(*Task) bool) {
	for t := m.lookup(l.head); t != nil; {
		next := m.lookup(t.links[kind].next)
		if !fn(t) {
			return
		}
		t = next
	}
}
