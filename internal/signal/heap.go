package signal

import "container/heap"

// EventHeap is a binary min-heap over events keyed by
// (timestamp asc, id asc). Iteration order is the sole source of time
// progression in the simulator, which makes runs bitwise-reproducible.
type EventHeap struct {
	items eventSlice
}

// NewEventHeap heapifies a slice of events.
func NewEventHeap(events []Event) *EventHeap {
	h := &EventHeap{items: eventSlice(events)}
	heap.Init(&h.items)
	return h
}

// Len returns the number of pending events.
func (h *EventHeap) Len() int { return len(h.items) }

// Pop removes and returns the earliest event.
func (h *EventHeap) Pop() (Event, bool) {
	if len(h.items) == 0 {
		return Event{}, false
	}
	ev := heap.Pop(&h.items).(Event)
	return ev, true
}

// Push adds an event.
func (h *EventHeap) Push(ev Event) {
	heap.Push(&h.items, ev)
}

type eventSlice []Event

func (s eventSlice) Len() int { return len(s) }

func (s eventSlice) Less(i, j int) bool {
	if s[i].Timestamp != s[j].Timestamp {
		return s[i].Timestamp < s[j].Timestamp
	}
	return s[i].ID < s[j].ID
}

func (s eventSlice) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s *eventSlice) Push(x interface{}) { *s = append(*s, x.(Event)) }

func (s *eventSlice) Pop() interface{} {
	old := *s
	n := len(old)
	ev := old[n-1]
	*s = old[:n-1]
	return ev
}
