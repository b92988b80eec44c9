package connman

import (
	"sync"

	"github.com/bsv-blockchain/sv2tp/pkg/sv2wire"
	"github.com/google/uuid"
)

// pushItem is one unit of cross-thread work for the reactor: either a batch of
// messages to serialize onto one peer's stream, or a disconnect request.
type pushItem struct {
	peerID     uuid.UUID
	msgs       []*sv2wire.Message
	disconnect bool
	reason     error
}

// pushQueue is the bounded MPSC queue between the update thread (and any other
// producer) and the reactor. When full, the oldest entry for the same
// peer is dropped in favor of the new one, or, if that peer has none queued, the
// oldest non-disconnect entry of any peer; templates are never dropped silently —
// the drop count is returned so the producer can log it.
type pushQueue struct {
	mu     sync.Mutex
	items  []pushItem
	max    int
	notify chan struct{}
}

func newPushQueue(max int) *pushQueue {
	return &pushQueue{
		max:    max,
		notify: make(chan struct{}, 1),
	}
}

// enqueue adds item, returning how many older entries were dropped to make
// room (the same peer's first, otherwise any peer's).
func (q *pushQueue) enqueue(item pushItem) int {
	q.mu.Lock()

	dropped := 0

	if len(q.items) >= q.max {
		for i, existing := range q.items {
			if existing.peerID == item.peerID && !existing.disconnect {
				q.items = append(q.items[:i], q.items[i+1:]...)
				dropped++

				break
			}
		}

		// Still full and nothing droppable for this peer: drop the oldest
		// non-disconnect entry overall.
		if len(q.items) >= q.max {
			for i, existing := range q.items {
				if !existing.disconnect {
					q.items = append(q.items[:i], q.items[i+1:]...)
					dropped++

					break
				}
			}
		}
	}

	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return dropped
}

// drain removes and returns every queued item.
func (q *pushQueue) drain() []pushItem {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	return items
}
