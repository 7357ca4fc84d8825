package gossip

import "testing"

func TestAddPeerSelfNoOp(t *testing.T) {
	n := NewNode("a")
	n.AddPeer("a", "ea")
	if n.KnownPeerCount() != 0 {
		t.Fatalf("expected self add to be a no-op, got %d peers", n.KnownPeerCount())
	}
}

func TestAddPeerIdempotent(t *testing.T) {
	n := NewNode("a")
	n.AddPeer("b", "eb")
	n.AddPeer("b", "eb")
	if n.KnownPeerCount() != 1 {
		t.Fatalf("expected idempotent add_peer, got %d peers", n.KnownPeerCount())
	}
}

// Scenario 1 from spec.md §8: two nodes A, B; A.add_peer(B);
// A.receive_peer_list([{C, urlC}], B) -> returns 1, known_peer_count() = 2.
func TestGossipConvergenceScenario(t *testing.T) {
	a := NewNode("A")
	a.AddPeer("B", "urlB")

	newCount := a.ReceivePeerList([]PeerRef{{NodeID: "C", Endpoint: "urlC"}}, "B")
	if newCount != 1 {
		t.Fatalf("expected 1 new peer, got %d", newCount)
	}
	if a.KnownPeerCount() != 2 {
		t.Fatalf("expected known_peer_count() == 2, got %d", a.KnownPeerCount())
	}
}

func TestReceivePeerListIgnoresSelf(t *testing.T) {
	a := NewNode("A")
	newCount := a.ReceivePeerList([]PeerRef{{NodeID: "A", Endpoint: "urlA"}}, "B")
	if newCount != 0 || a.KnownPeerCount() != 0 {
		t.Fatalf("expected self-referencing entries to be ignored")
	}
}

func TestReceivePeerListRefreshesKnownPeer(t *testing.T) {
	a := NewNode("A")
	a.AddPeer("B", "urlB")
	for i := 0; i < TTLInit-1; i++ {
		a.AgeEntries()
	}
	newCount := a.ReceivePeerList([]PeerRef{{NodeID: "B", Endpoint: "urlB2"}}, "C")
	if newCount != 0 {
		t.Fatalf("expected 0 new peers for a refresh, got %d", newCount)
	}
	ep, _ := a.Endpoint("B")
	if ep != "urlB2" {
		t.Fatalf("expected endpoint refreshed to urlB2, got %s", ep)
	}
}

// Scenario 2 from spec.md §8: TTL expiry.
func TestTTLExpiry(t *testing.T) {
	a := NewNode("A")
	a.AddPeer("B", "urlB")

	for i := 0; i < TTLInit+1; i++ {
		a.AgeEntries()
	}
	if a.KnownPeerCount() != 0 {
		t.Fatalf("expected peer to expire after TTL_INIT rounds, got %d peers", a.KnownPeerCount())
	}
}

func TestPickGossipTargetNeverSelf(t *testing.T) {
	a := NewNode("A")
	if _, ok := a.PickGossipTarget(); ok {
		t.Fatalf("expected no target with an empty peer table")
	}

	a.AddPeer("B", "urlB")
	for i := 0; i < 50; i++ {
		target, ok := a.PickGossipTarget()
		if !ok {
			t.Fatalf("expected a target once a peer is known")
		}
		if target == "A" {
			t.Fatalf("pick_gossip_target must never return self")
		}
	}
}

func TestGetPeerListMessageIncludesSelf(t *testing.T) {
	a := NewNode("A")
	a.AddPeer("B", "urlB")
	msg := a.GetPeerListMessage("urlA")

	foundSelf := false
	for _, p := range msg {
		if p.NodeID == "A" {
			foundSelf = true
			if p.Endpoint != "urlA" {
				t.Fatalf("expected self endpoint urlA, got %s", p.Endpoint)
			}
		}
	}
	if !foundSelf {
		t.Fatalf("expected self to be included in peer list message")
	}
	if len(msg) != 2 {
		t.Fatalf("expected 2 entries (self + B), got %d", len(msg))
	}
}
