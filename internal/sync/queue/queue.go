// Package queue provides the in-memory sync priority queue.
//
// The queue orders pending entities into four strict tiers; higher tiers
// are always drained before lower ones. It has no persistence: on
// session start it is rebuilt from the entities whose sync status is
// neither synced nor error.
package queue

import (
	"sync"

	"github.com/jubileebay/jubileesync/internal/models"
)

// Priority classifies a queued entity. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUserInitiated
)

// String returns a human-readable tier name.
func (p Priority) String() string {
	switch p {
	case PriorityUserInitiated:
		return "user_initiated"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// tiers in drain order, highest first.
var tiers = []Priority{PriorityUserInitiated, PriorityHigh, PriorityNormal, PriorityLow}

// Item pairs an entity reference with its tier.
type Item struct {
	UUID     models.UUID
	Priority Priority
}

// PriorityQueue is a mutex-guarded multi-tier queue. It is safe for
// concurrent enqueue from edit paths and dequeue from the scheduler.
type PriorityQueue struct {
	mu      sync.Mutex
	lists   map[Priority][]models.UUID
	members map[models.UUID]Priority
}

// NewPriorityQueue creates an empty PriorityQueue.
func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{
		lists:   make(map[Priority][]models.UUID, len(tiers)),
		members: make(map[models.UUID]Priority),
	}
	for _, tier := range tiers {
		q.lists[tier] = nil
	}
	return q
}

// Enqueue appends an entity to its tier in O(1). Enqueueing an entity
// already present is a no-op unless the new priority is higher, in
// which case the entity moves up a tier.
func (q *PriorityQueue) Enqueue(id models.UUID, priority Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if current, ok := q.members[id]; ok {
		if priority <= current {
			return
		}
		q.removeLocked(id, current)
	}

	q.lists[priority] = append(q.lists[priority], id)
	q.members[id] = priority
}

// DequeueBatch drains up to count items, exhausting higher tiers before
// touching lower ones. Returned items are removed from the queue; no
// item is returned twice in one call.
func (q *PriorityQueue) DequeueBatch(count int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if count <= 0 {
		return nil
	}

	batch := make([]Item, 0, count)
	for _, tier := range tiers {
		list := q.lists[tier]
		for len(list) > 0 && len(batch) < count {
			id := list[0]
			list = list[1:]
			batch = append(batch, Item{UUID: id, Priority: tier})
			delete(q.members, id)
		}
		q.lists[tier] = list
		if len(batch) == count {
			break
		}
	}
	return batch
}

// DequeueMinimum drains up to count items at or above the given tier,
// leaving lower tiers untouched. Used for lightweight sync windows that
// only carry high-priority work.
func (q *PriorityQueue) DequeueMinimum(count int, min Priority) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if count <= 0 {
		return nil
	}

	batch := make([]Item, 0, count)
	for _, tier := range tiers {
		if tier < min {
			break
		}
		list := q.lists[tier]
		for len(list) > 0 && len(batch) < count {
			id := list[0]
			list = list[1:]
			batch = append(batch, Item{UUID: id, Priority: tier})
			delete(q.members, id)
		}
		q.lists[tier] = list
		if len(batch) == count {
			break
		}
	}
	return batch
}

// Remove deletes an entity from the queue if present.
func (q *PriorityQueue) Remove(id models.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	tier, ok := q.members[id]
	if !ok {
		return false
	}
	q.removeLocked(id, tier)
	return true
}

// removeLocked drops an entity from its tier list. Caller holds the lock.
func (q *PriorityQueue) removeLocked(id models.UUID, tier Priority) {
	list := q.lists[tier]
	for i, queued := range list {
		if queued == id {
			q.lists[tier] = append(list[:i], list[i+1:]...)
			break
		}
	}
	delete(q.members, id)
}

// Contains reports whether an entity is queued.
func (q *PriorityQueue) Contains(id models.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[id]
	return ok
}

// Len returns the number of queued entities.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.members)
}

// Clear empties all tiers.
func (q *PriorityQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, tier := range tiers {
		q.lists[tier] = nil
	}
	q.members = make(map[models.UUID]Priority)
}

// Rebuild repopulates the queue from entities pending sync, typically
// at session start. Existing queue contents are replaced.
func (q *PriorityQueue) Rebuild(entities []*models.Entity) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, tier := range tiers {
		q.lists[tier] = nil
	}
	q.members = make(map[models.UUID]Priority)

	for _, e := range entities {
		// Entities the server rejected outright wait for an explicit
		// MarkForSync; rebuilding them would retry forever.
		if e.SyncStatus == models.SyncStatusError {
			continue
		}
		priority := PriorityNormal
		if e.ConflictPending {
			priority = PriorityHigh
		}
		if _, ok := q.members[e.UUID]; ok {
			continue
		}
		q.lists[priority] = append(q.lists[priority], e.UUID)
		q.members[e.UUID] = priority
	}
}

// Stats returns per-tier queue depths.
func (q *PriorityQueue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]int{"total": len(q.members)}
	for _, tier := range tiers {
		stats[tier.String()] = len(q.lists[tier])
	}
	return stats
}
