package gossip

import (
	"testing"

	"pgregory.net/rapid"
)

// A freshly-seen or freshly-refreshed peer always starts at TTLInit, and
// AgeEntries removes an entry the instant its TTL would go non-positive,
// so no entry surviving in the table should ever carry a TTL <= 0
// regardless of how many AddPeer/AgeEntries calls precede the check.
func TestPeerTTLNeverNonPositive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := NewNode("self")

		steps := rapid.SliceOfN(rapid.IntRange(0, 1), 0, 50).Draw(t, "steps")
		peerIDs := []string{"a", "b", "c"}
		for i, step := range steps {
			peerID := peerIDs[i%len(peerIDs)]
			if step == 0 {
				n.AddPeer(peerID, "queue://"+peerID)
			} else {
				n.AgeEntries()
			}
		}

		for _, p := range n.Peers() {
			if p.TTL <= 0 {
				t.Fatalf("entry %+v survived in the table with a non-positive TTL", p)
			}
		}
	})
}

// AddPeer and ReceivePeerList must never insert an entry naming self.
func TestSelfNeverEntersPeerTable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := NewNode("self")

		switch rapid.IntRange(0, 1).Draw(t, "path") {
		case 0:
			n.AddPeer("self", "queue://self")
		case 1:
			n.ReceivePeerList([]PeerRef{{NodeID: "self", Endpoint: "queue://self"}}, "other")
		}

		if _, ok := n.Endpoint("self"); ok {
			t.Fatalf("self-entry leaked into the peer table")
		}
	})
}
