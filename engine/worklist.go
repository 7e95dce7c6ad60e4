package engine

import (
	"container/heap"
	"sync"
)

// WorkKind identifies the operation a work item performs.
type WorkKind string

const (
	// WorkExecute runs one node body for a task.
	WorkExecute WorkKind = "execute"
	// WorkMergeWait records an upstream arrival at a merge group.
	WorkMergeWait WorkKind = "merge_wait"
	// WorkRouteDecision resolves a decision node's outgoing edge.
	WorkRouteDecision WorkKind = "route_decision"
	// WorkCloneSpawn creates one clone child for a branch alternative.
	WorkCloneSpawn WorkKind = "clone_spawn"
	// WorkSubtaskSpawn creates one subtask child for a split alternative.
	WorkSubtaskSpawn WorkKind = "subtask_spawn"
)

// WorkItem is a single pending operation. Items for the same task are
// never in flight simultaneously; items for different tasks may run
// concurrently. Lower priority values run sooner.
type WorkItem struct {
	ID        string
	Kind      WorkKind
	TaskID    string
	NodeID    string
	Priority  int
	DependsOn []string
	Payload   any

	seq   uint64
	index int
}

// workHeap orders ready items by (priority, arrival sequence).
type workHeap []*WorkItem

func (h workHeap) Len() int { return len(h) }

func (h workHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h workHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *workHeap) Push(x any) {
	item := x.(*WorkItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *workHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Worklist is the engine's priority queue of pending operations with a
// dependency-count gate per item (Kahn-style release) and single-writer
// serialization per task: Next never hands out an item whose task has
// another item in flight.
type Worklist struct {
	mu   sync.Mutex
	cond *sync.Cond

	ready      workHeap
	blocked    map[string]*WorkItem
	unmet      map[string]int
	dependents map[string][]string
	done       map[string]bool
	busy       map[string]bool
	inflight   int
	seq        uint64
	closed     bool
}

// NewWorklist creates an empty worklist.
func NewWorklist() *Worklist {
	w := &Worklist{
		blocked:    make(map[string]*WorkItem),
		unmet:      make(map[string]int),
		dependents: make(map[string][]string),
		done:       make(map[string]bool),
		busy:       make(map[string]bool),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Push enqueues an item. Items whose dependencies have not all completed
// are held until the last dependency completes.
func (w *Worklist) Push(item *WorkItem) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	item.seq = w.seq

	pending := 0
	for _, dep := range item.DependsOn {
		if !w.done[dep] {
			pending++
			w.dependents[dep] = append(w.dependents[dep], item.ID)
		}
	}
	if pending > 0 {
		w.blocked[item.ID] = item
		w.unmet[item.ID] = pending
		return
	}
	heap.Push(&w.ready, item)
	w.cond.Broadcast()
}

// Next blocks until an item is dispatchable and returns it, marking its
// task busy. It returns nil when the worklist has fully drained (nothing
// ready, nothing blocked, nothing in flight) or Close was called.
func (w *Worklist) Next() *WorkItem {
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		if w.closed {
			return nil
		}
		if item := w.takeLocked(); item != nil {
			w.busy[item.TaskID] = true
			w.inflight++
			return item
		}
		if w.inflight == 0 && w.ready.Len() == 0 && len(w.blocked) == 0 {
			return nil
		}
		w.cond.Wait()
	}
}

// takeLocked pops the highest-priority ready item whose task is idle.
func (w *Worklist) takeLocked() *WorkItem {
	for i := range w.ready {
		if !w.busy[w.ready[i].TaskID] {
			return heap.Remove(&w.ready, i).(*WorkItem)
		}
	}
	return nil
}

// Done marks an item complete, releases its task for the next item, and
// unblocks any items that were gated on it.
func (w *Worklist) Done(item *WorkItem) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.busy, item.TaskID)
	w.inflight--
	w.done[item.ID] = true

	for _, depID := range w.dependents[item.ID] {
		if w.unmet[depID] == 0 {
			continue
		}
		w.unmet[depID]--
		if w.unmet[depID] == 0 {
			released := w.blocked[depID]
			delete(w.blocked, depID)
			delete(w.unmet, depID)
			heap.Push(&w.ready, released)
		}
	}
	delete(w.dependents, item.ID)

	w.cond.Broadcast()
}

// Close wakes all waiters; subsequent Next calls return nil.
func (w *Worklist) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Len returns the number of items not yet completed: ready, blocked, and
// in flight.
func (w *Worklist) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready.Len() + len(w.blocked) + w.inflight
}
