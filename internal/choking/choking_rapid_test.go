package choking

import (
	"testing"

	"pgregory.net/rapid"
)

// The unchoked set never exceeds max_unchoked, no matter how many
// contribution events and rounds precede the check.
func TestUnchokedSetNeverExceedsMaxRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxUnchoked := rapid.IntRange(1, 6).Draw(t, "maxUnchoked")
		optimisticInterval := rapid.IntRange(1, 5).Draw(t, "optimisticInterval")
		n := NewNode("self", maxUnchoked, optimisticInterval)

		peerIDs := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
		for _, id := range peerIDs {
			n.AddPeer(id)
		}

		rounds := rapid.IntRange(0, 20).Draw(t, "rounds")
		for i := 0; i < rounds; i++ {
			peerID := peerIDs[rapid.IntRange(0, len(peerIDs)-1).Draw(t, "contributor")]
			units := rapid.IntRange(0, 10).Draw(t, "units")
			n.RecordContribution(peerID, units)
			n.RunChokingRound()

			if got := len(n.GetUnchokedPeers()); got > maxUnchoked {
				t.Fatalf("round %d: unchoked set size %d exceeds max_unchoked %d", i, got, maxUnchoked)
			}
		}
	})
}
