// Package heartbeat detects offline peers with a two-threshold state
// machine that tolerates a short grace period before escalating.
package heartbeat

import (
	"fmt"
	"sync"
)

// Status is a peer's liveness state.
type Status string

const (
	Alive   Status = "ALIVE"
	Suspect Status = "SUSPECT"
	Dead    Status = "DEAD"
)

// PeerState is the tracked state for a single monitored peer.
type PeerState struct {
	NodeID              string
	Status              Status
	ConsecutiveMisses   int
	LastPongRound       int
	TotalPingsSent      int
	TotalPongsReceived  int
}

// NewNode creates a new heartbeat Node. miss_threshold must be greater
// than grace_period; this is a construction-time precondition and
// panics immediately if violated, per spec.md §7 ("fail fast at
// startup").
func NewNode(selfID string, missThreshold, gracePeriod int) *Node {
	if missThreshold <= gracePeriod {
		panic(fmt.Sprintf("heartbeat: miss_threshold (%d) must be > grace_period (%d)", missThreshold, gracePeriod))
	}
	return &Node{
		selfID:        selfID,
		missThreshold: missThreshold,
		gracePeriod:   gracePeriod,
		peers:         map[string]*PeerState{},
	}
}

// Node sends PINGs to peers and tracks their liveness status.
type Node struct {
	selfID        string
	missThreshold int
	gracePeriod   int

	mu    sync.Mutex
	peers map[string]*PeerState

	logMu sync.Mutex
	log   []string
}

// AddPeer registers a new peer to monitor, starting in ALIVE.
func (n *Node) AddPeer(nodeID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[nodeID]; ok {
		return
	}
	n.peers[nodeID] = &PeerState{NodeID: nodeID, Status: Alive}
}

// SendPings returns all peers whose status is ALIVE or SUSPECT,
// incrementing each one's total_pings_sent. DEAD peers are never pinged.
func (n *Node) SendPings(round int) []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]string, 0, len(n.peers))
	for id, p := range n.peers {
		if p.Status == Dead {
			continue
		}
		p.TotalPingsSent++
		out = append(out, id)
	}
	return out
}

// ReceivePong transitions a peer back to ALIVE and resets its miss
// counter. Unknown senders are ignored. DEAD is terminal until pruned:
// a PONG arriving after a peer has already been declared DEAD (late or
// reordered, since the transport is at-least-once) does not revive it.
func (n *Node) ReceivePong(fromNode string, round int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.peers[fromNode]
	if !ok || p.Status == Dead {
		return
	}
	p.Status = Alive
	p.ConsecutiveMisses = 0
	p.LastPongRound = round
	p.TotalPongsReceived++
}

// RecordMiss increments a peer's consecutive miss counter and applies
// the state machine. miss_threshold is checked before grace_period so a
// peer crossing both bounds in one call lands in DEAD, not SUSPECT.
// Unknown peers are a no-op.
func (n *Node) RecordMiss(peerID string, round int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.peers[peerID]
	if !ok {
		return
	}
	p.ConsecutiveMisses++

	prev := p.Status
	switch {
	case p.ConsecutiveMisses >= n.missThreshold:
		p.Status = Dead
	case p.ConsecutiveMisses >= n.gracePeriod:
		p.Status = Suspect
	}

	if p.Status != prev {
		n.appendLog(fmt.Sprintf("%s: %s -> %s (misses=%d)", peerID, prev, p.Status, p.ConsecutiveMisses))
	}
}

func (n *Node) appendLog(line string) {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	n.log = append(n.log, line)
}

// FlushLog drains and returns accumulated transition log lines.
func (n *Node) FlushLog() []string {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	out := n.log
	n.log = nil
	return out
}

func (n *Node) filterStatus(status Status) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []string{}
	for id, p := range n.peers {
		if p.Status == status {
			out = append(out, id)
		}
	}
	return out
}

// GetAlivePeers returns node ids of all ALIVE peers.
func (n *Node) GetAlivePeers() []string { return n.filterStatus(Alive) }

// GetSuspectPeers returns node ids of all SUSPECT peers.
func (n *Node) GetSuspectPeers() []string { return n.filterStatus(Suspect) }

// GetDeadPeers returns node ids of all DEAD peers.
func (n *Node) GetDeadPeers() []string { return n.filterStatus(Dead) }

// PruneDead removes DEAD entries from the tracking table entirely.
func (n *Node) PruneDead() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, p := range n.peers {
		if p.Status == Dead {
			delete(n.peers, id)
		}
	}
}

// Snapshot returns a copy of a peer's current state, if tracked.
func (n *Node) Snapshot(peerID string) (PeerState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[peerID]
	if !ok {
		return PeerState{}, false
	}
	return *p, true
}
