package lobby

import "time"

// WaitingEntry is a queued, unpaired search for an opponent.
type WaitingEntry struct {
	ConnID      string
	DisplayName string
	Kind        string // "guest" or "registered"
	ExternalID  *string
	EnqueuedAt  time.Time
}

// Queue is a FIFO list of waiting entries, oldest first. It carries no lock
// of its own: the orchestrator serializes access together with the registry
// and the session store so a connection cannot be matched twice.
type Queue struct {
	entries []WaitingEntry
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends the entry to the tail, dropping any prior entry for the
// same connection first. Re-searching is therefore idempotent apart from the
// implicit move to the tail.
func (q *Queue) Enqueue(e WaitingEntry) {
	q.Remove(e.ConnID)
	q.entries = append(q.entries, e)
}

// DequeueOldest pops the head entry. The second return is false when the
// queue is empty.
func (q *Queue) DequeueOldest() (WaitingEntry, bool) {
	if len(q.entries) == 0 {
		return WaitingEntry{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true
}

// Remove drops the entry for the connection if present.
func (q *Queue) Remove(connID string) bool {
	for i, e := range q.entries {
		if e.ConnID == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether the connection is currently waiting.
func (q *Queue) Contains(connID string) bool {
	for _, e := range q.entries {
		if e.ConnID == connID {
			return true
		}
	}
	return false
}

func (q *Queue) Len() int { return len(q.entries) }
