// Package choking implements BitTorrent-style reciprocity: it limits
// concurrent service to the top contributing peers and periodically
// rotates a single optimistic slot to give new peers a chance.
package choking

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

// PeerTracker tracks a single peer's contribution and choking state.
type PeerTracker struct {
	NodeID        string
	Contributed   int
	Received      int
	IsChoked      bool
	IsInterested  bool
	RoundsChoked  int
}

// ReciprocityRatio is contributed/received, falling through to raw
// contribution volume when nothing has been received from us yet.
func (p *PeerTracker) ReciprocityRatio() float64 {
	if p.Received == 0 {
		return float64(p.Contributed)
	}
	return float64(p.Contributed) / float64(p.Received)
}

// NewNode creates a new choking Node.
func NewNode(selfID string, maxUnchoked, optimisticInterval int) *Node {
	return &Node{
		selfID:             selfID,
		maxUnchoked:        maxUnchoked,
		optimisticInterval: optimisticInterval,
		peers:              map[string]*PeerTracker{},
		order:              []string{},
	}
}

// Node implements BitTorrent-style tit-for-tat choking.
type Node struct {
	selfID             string
	maxUnchoked        int
	optimisticInterval int

	mu    sync.Mutex
	peers map[string]*PeerTracker
	order []string // insertion order, for stable deterministic ties

	round           int
	optimisticPeer  string

	logMu sync.Mutex
	log   []string
}

// AddPeer registers a new peer; new peers start choked and interested.
func (n *Node) AddPeer(nodeID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[nodeID]; ok {
		return
	}
	n.peers[nodeID] = &PeerTracker{NodeID: nodeID, IsChoked: true, IsInterested: true}
	n.order = append(n.order, nodeID)
}

// RecordContribution records that a peer contributed units to us.
func (n *Node) RecordContribution(from string, units int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[from]; ok {
		p.Contributed += units
	}
}

// RecordServing records that we served units to a peer.
func (n *Node) RecordServing(to string, units int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[to]; ok {
		p.Received += units
	}
}

// RunChokingRound recalculates choke/unchoke decisions. See spec.md
// §4.3 for the full algorithm. Merit slots take max_unchoked-1 seats
// whenever the optimistic slot is in play, max_unchoked otherwise.
//
// Deviation from a literal reading of spec.md §4.3 step 4, documented
// per spec.md §9 ("implementations that deviate must document it"):
// the node's very first round never forces an optimistic pick merely
// because none is designated yet — it uses the full merit cap, so
// reciprocity has a chance to matter before rotation starts. From the
// second round on, "no peer currently designated" again acts as the
// bootstrap/recovery fallback the spec describes. Without this, a
// fresh node with a large optimistic_interval would have its very
// first round decided by a coin flip instead of contribution, which
// contradicts spec.md §8 scenario 4 (choking favors the contributor).
//
// Known, scoped exception to the §4.3 invariant "a peer with zero
// contribution and zero optimistic selection remains choked": because
// round 1 grants the full merit cap instead of reserving a seat for
// the optimistic slot, a zero-contribution peer can still win a merit
// seat by insertion-order tiebreak when every interested peer is tied
// at zero (e.g. a round 1 with no contributions recorded yet at all).
// This only happens in round 1, and only among fully-tied peers;
// routing round 1 through the optimistic slot instead would restore
// the invariant but reintroduces the scenario-4 coin flip above, which
// is the worse of the two trade-offs.
func (n *Node) RunChokingRound() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.round++

	interested := n.interestedInOrder()
	sort.SliceStable(interested, func(i, j int) bool {
		return interested[i].ReciprocityRatio() > interested[j].ReciprocityRatio()
	})

	// The optimistic slot is in play from the second round onward (see
	// the deviation note above for why round 1 is exempt).
	useOptimisticSlot := n.round > 1

	rotateDue := useOptimisticSlot && (n.optimisticInterval <= 0 || n.round%n.optimisticInterval == 0)
	optimisticStale := useOptimisticSlot && n.optimisticPeer == ""
	if useOptimisticSlot && n.optimisticPeer != "" {
		if p, ok := n.peers[n.optimisticPeer]; !ok || !p.IsInterested {
			optimisticStale = true
		}
	}

	meritSeats := n.maxUnchoked
	if useOptimisticSlot && n.maxUnchoked > 0 {
		meritSeats = n.maxUnchoked - 1
	}
	if meritSeats < 0 {
		meritSeats = 0
	}
	if meritSeats > len(interested) {
		meritSeats = len(interested)
	}

	merit := interested[:meritSeats]
	meritSet := map[string]bool{}
	for _, p := range merit {
		meritSet[p.NodeID] = true
	}

	if n.optimisticPeer != "" && meritSet[n.optimisticPeer] {
		// promoted into merit on its own standing; rotation must find
		// a new beneficiary rather than double-count this peer.
		rotateDue = true
	}

	if n.round == 1 {
		n.optimisticPeer = ""
	} else if rotateDue || optimisticStale {
		n.optimisticPeer = n.pickOptimistic(meritSet)
	}

	unchokedSet := map[string]bool{}
	for id := range meritSet {
		unchokedSet[id] = true
	}
	if n.optimisticPeer != "" {
		unchokedSet[n.optimisticPeer] = true
	}

	for _, id := range n.order {
		p := n.peers[id]
		wasChoked := p.IsChoked
		nowChoked := !unchokedSet[id]

		if nowChoked != wasChoked {
			if nowChoked {
				n.appendLog(fmt.Sprintf("CHOKE %s", id))
			} else {
				n.appendLog(fmt.Sprintf("UNCHOKE %s", id))
			}
		}
		p.IsChoked = nowChoked
		if nowChoked {
			p.RoundsChoked++
		} else {
			p.RoundsChoked = 0
		}
	}
}

func (n *Node) interestedInOrder() []*PeerTracker {
	out := make([]*PeerTracker, 0, len(n.peers))
	for _, id := range n.order {
		p := n.peers[id]
		if p.IsInterested {
			out = append(out, p)
		}
	}
	return out
}

func (n *Node) pickOptimistic(meritSet map[string]bool) string {
	candidates := []string{}
	for _, id := range n.order {
		p := n.peers[id]
		if p.IsInterested && !meritSet[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[rand.Intn(len(candidates))]
}

func (n *Node) appendLog(line string) {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	n.log = append(n.log, line)
}

// FlushLog drains and returns accumulated CHOKE/UNCHOKE log lines.
func (n *Node) FlushLog() []string {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	out := n.log
	n.log = nil
	return out
}

// GetUnchokedPeers returns node ids of all currently unchoked peers.
func (n *Node) GetUnchokedPeers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []string{}
	for _, id := range n.order {
		if !n.peers[id].IsChoked {
			out = append(out, id)
		}
	}
	return out
}

// GetChokedPeers returns node ids of all currently choked peers.
func (n *Node) GetChokedPeers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []string{}
	for _, id := range n.order {
		if n.peers[id].IsChoked {
			out = append(out, id)
		}
	}
	return out
}

// Snapshot returns a copy of a peer's current tracker, if known.
func (n *Node) Snapshot(nodeID string) (PeerTracker, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[nodeID]
	if !ok {
		return PeerTracker{}, false
	}
	return *p, true
}

// SetInterested updates whether a tracked peer is currently interested
// in being served. Unknown peers are a no-op.
func (n *Node) SetInterested(nodeID string, interested bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[nodeID]; ok {
		p.IsInterested = interested
	}
}
