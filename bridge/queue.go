package bridge

import (
	"sync"
	"time"

	"github.com/dronefabric/drone/internal/packet"
)

// QueueEntry is returned by Pop and names both the packet and the neighbor
// it is destined for.
type QueueEntry struct {
	Packet *packet.Packet
	Dest   packet.NodeId
}

// OutboundQueue is a priority-ordered outbound packet queue sitting between
// a drone's event loop and its links: a drone's forward/broadcastFlood calls
// push here instead of blocking directly on a link's Send, so a slow or
// reconnecting link never stalls packet handling. Lower priority numbers
// drain first; a packet with a future readyAt is held until that time.
type OutboundQueue struct {
	mu    sync.Mutex
	items []queueItem
}

type queueItem struct {
	pkt      *packet.Packet
	dest     packet.NodeId
	priority uint8
	readyAt  time.Time
}

// NewOutboundQueue creates an empty queue.
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{}
}

// Push enqueues a packet for dest with the given priority (0 highest) and
// delay before it becomes eligible for Pop.
func (q *OutboundQueue) Push(pkt *packet.Packet, dest packet.NodeId, priority uint8, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queueItem{
		pkt:      pkt,
		dest:     dest,
		priority: priority,
		readyAt:  time.Now().Add(delay),
	})
}

// Pop returns the highest-priority ready entry, or nil if none are ready.
// Among equal priorities, the earliest-pushed item wins.
func (q *OutboundQueue) Pop() *QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	bestIdx := -1
	var bestPri uint8 = 255

	for i, item := range q.items {
		if now.Before(item.readyAt) {
			continue
		}
		if bestIdx == -1 || item.priority < bestPri {
			bestIdx = i
			bestPri = item.priority
		}
	}

	if bestIdx == -1 {
		return nil
	}

	entry := &QueueEntry{Packet: q.items[bestIdx].pkt, Dest: q.items[bestIdx].dest}
	q.items = append(q.items[:bestIdx], q.items[bestIdx+1:]...)
	return entry
}

// Len returns the total number of items in the queue, ready or not.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
