// Package transport defines the thin send/receive/delete capability the
// node runtime depends on. Production deployments back it with a hosted
// message bus; this package also ships an in-memory implementation for
// tests and single-process demos.
package transport

import (
	"strconv"
	"sync"
	"time"

	"github.com/mcastellin/adview-overlay/internal/protocol"
)

// Transport is the capability triple the runtime consumes. No subsystem
// depends on which implementation backs it.
type Transport interface {
	// Send delivers msg to target's inbox. Returns false on failure;
	// the caller logs and moves on, it never retries.
	Send(target string, msg protocol.Message) bool

	// Receive long-polls self's inbox, returning up to maxBatch
	// messages and blocking at most waitFor. Each returned message
	// carries an opaque Receipt.
	Receive(self string, maxBatch int, waitFor time.Duration) []protocol.Message

	// Delete acknowledges a previously received message by receipt.
	Delete(self, receipt string)
}

// inbox is a single node's mailbox in the in-memory bus.
type inbox struct {
	mu       sync.Mutex
	pending  map[string]protocol.Message // receipt -> message, kept until Delete
	order    []string                    // receipt insertion order
	notify   chan struct{}
	receiptN int
}

// NewMemoryBus creates a new in-memory Transport. Every node id that
// will ever be addressed must be registered via Register before use.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{inboxes: map[string]*inbox{}}
}

// MemoryBus is an in-memory Transport backing tests and local demos,
// modeled after the hosted-queue contract without any network hop.
type MemoryBus struct {
	mu      sync.Mutex
	inboxes map[string]*inbox
}

// Register creates an empty inbox for a node id, if it doesn't exist.
func (b *MemoryBus) Register(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[nodeID]; !ok {
		b.inboxes[nodeID] = &inbox{
			pending: map[string]protocol.Message{},
			notify:  make(chan struct{}, 1),
		}
	}
}

func (b *MemoryBus) inboxFor(nodeID string) *inbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inboxes[nodeID]
}

// Send enqueues msg into target's inbox. Returns false if target was
// never registered, mirroring a lookup failure against a hosted queue.
func (b *MemoryBus) Send(target string, msg protocol.Message) bool {
	box := b.inboxFor(target)
	if box == nil {
		return false
	}

	box.mu.Lock()
	box.receiptN++
	receipt := strconv.Itoa(box.receiptN)
	msg.Receipt = receipt
	box.pending[receipt] = msg
	box.order = append(box.order, receipt)
	box.mu.Unlock()

	select {
	case box.notify <- struct{}{}:
	default:
	}
	return true
}

// Receive returns up to maxBatch pending messages for self, waiting up
// to waitFor if the inbox is currently empty.
func (b *MemoryBus) Receive(self string, maxBatch int, waitFor time.Duration) []protocol.Message {
	box := b.inboxFor(self)
	if box == nil {
		return nil
	}

	box.mu.Lock()
	if len(box.order) == 0 {
		box.mu.Unlock()
		select {
		case <-box.notify:
		case <-time.After(waitFor):
			return nil
		}
		box.mu.Lock()
	}
	defer box.mu.Unlock()

	n := maxBatch
	if n > len(box.order) {
		n = len(box.order)
	}
	out := make([]protocol.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, box.pending[box.order[i]])
	}
	return out
}

// Delete acknowledges a processed message, removing it from self's inbox.
func (b *MemoryBus) Delete(self, receipt string) {
	box := b.inboxFor(self)
	if box == nil {
		return
	}

	box.mu.Lock()
	defer box.mu.Unlock()
	delete(box.pending, receipt)
	for i, r := range box.order {
		if r == receipt {
			box.order = append(box.order[:i], box.order[i+1:]...)
			break
		}
	}
}
