package refresh

import (
	"smoothcal/internal/event"
)

// Queue holds one cycle's event URLs in processing order: previously-unseen
// events first, already-cached events after, each partition preserving the
// source listing order. Front-loading new events means a cycle interrupted
// partway still captures what the cache has never seen.
type Queue struct {
	urls     []string
	newCount int
}

// NewQueue partitions the listed URLs against the set of cached event IDs.
// URLs whose ID cannot be extracted count as new.
func NewQueue(urls []string, existing map[string]struct{}) *Queue {
	var fresh, updates []string
	for _, u := range urls {
		if id, ok := event.IDFromURL(u); ok {
			if _, seen := existing[id]; seen {
				updates = append(updates, u)
				continue
			}
		}
		fresh = append(fresh, u)
	}
	return &Queue{
		urls:     append(fresh, updates...),
		newCount: len(fresh),
	}
}

// URLs returns all queued URLs in processing order.
func (q *Queue) URLs() []string { return q.urls }

// Len returns the total number of queued URLs.
func (q *Queue) Len() int { return len(q.urls) }

// NewCount returns the number of URLs in the new partition.
func (q *Queue) NewCount() int { return q.newCount }

// IsNew reports whether the i-th queued URL belongs to the new partition.
func (q *Queue) IsNew(i int) bool { return i < q.newCount }
