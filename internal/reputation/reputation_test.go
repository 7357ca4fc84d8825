package reputation

import "testing"

func TestAddPeerStartsNeutral(t *testing.T) {
	n := NewNode("self")
	n.AddPeer("b")
	snap, ok := n.Snapshot("b")
	if !ok || snap.TrustScore() != 0.5 {
		t.Fatalf("expected new peer at neutral trust 0.5, got %+v", snap)
	}
}

func TestAddPeerIdempotent(t *testing.T) {
	n := NewNode("self")
	n.AddPeer("b")
	n.AddPeer("b")
	if len(n.GetRankedPeers()) != 1 {
		t.Fatalf("expected idempotent add_peer, got %d peers", len(n.GetRankedPeers()))
	}
}

func TestTrustScoreBounded(t *testing.T) {
	n := NewNode("self")
	n.AddPeer("b")
	for i := 0; i < 20; i++ {
		n.RecordReport("b", true)
		n.RecordHeartbeat("b", true)
		n.RecordContribution("b", 10)
	}
	n.UpdateAllScores()
	snap, _ := n.Snapshot("b")
	if snap.TrustScore() < 0 || snap.TrustScore() > 1 {
		t.Fatalf("expected trust_score in [0,1], got %v", snap.TrustScore())
	}
}

// Scenario 6 from spec.md §8: weighted vote beats the liar.
func TestWeightedVoteBeatsLiar(t *testing.T) {
	n := NewNode("self")
	n.AddPeer("B")
	n.AddPeer("C")
	for i := 0; i < 10; i++ {
		n.RecordReport("B", true)
		n.RecordReport("C", false)
	}
	n.UpdateAllScores()

	count, confidence := n.WeightedMajorityVote(map[string]int{"B": 100, "C": 9999})
	if count != 100 {
		t.Fatalf("expected winning count 100, got %d", count)
	}
	if confidence <= 0 || confidence > 1 {
		t.Fatalf("expected confidence in (0,1], got %v", confidence)
	}
}

// Scenario 7 from spec.md §8: unanimous agreement yields higher
// confidence than the same trust split by one dissenter.
func TestUnanimousBeatsSplitConfidence(t *testing.T) {
	unanimous := NewNode("self")
	for _, id := range []string{"a", "b", "c"} {
		unanimous.AddPeer(id)
		for i := 0; i < 5; i++ {
			unanimous.RecordReport(id, true)
		}
	}
	unanimous.UpdateAllScores()
	_, confU := unanimous.WeightedMajorityVote(map[string]int{"a": 100, "b": 100, "c": 100})

	split := NewNode("self")
	for _, id := range []string{"a", "b", "c"} {
		split.AddPeer(id)
		for i := 0; i < 5; i++ {
			split.RecordReport(id, true)
		}
	}
	split.UpdateAllScores()
	_, confS := split.WeightedMajorityVote(map[string]int{"a": 100, "b": 100, "c": 999})

	if confU <= confS {
		t.Fatalf("expected unanimous confidence (%v) > split confidence (%v)", confU, confS)
	}
}

func TestWeightedVoteUnknownPeerHasZeroWeight(t *testing.T) {
	n := NewNode("self")
	n.AddPeer("B")
	for i := 0; i < 10; i++ {
		n.RecordReport("B", true)
	}
	n.UpdateAllScores()

	count, confidence := n.WeightedMajorityVote(map[string]int{"B": 50, "ghost": 9999})
	if count != 50 {
		t.Fatalf("expected known peer's vote to win over an unknown voter, got %d", count)
	}
	if confidence != 1.0 {
		t.Fatalf("expected full confidence when the only weighted voter agrees, got %v", confidence)
	}
}

func TestWeightedVoteAllZeroWeightUsesHighestCount(t *testing.T) {
	n := NewNode("self")
	count, confidence := n.WeightedMajorityVote(map[string]int{"ghost1": 10, "ghost2": 500})
	if confidence != 0.0 {
		t.Fatalf("expected confidence 0 when total weight is 0, got %v", confidence)
	}
	if count != 500 {
		t.Fatalf("expected highest reported count as the arbitrary winner, got %d", count)
	}
}

func TestWeightedVoteDetailedMarksLiarInaccurate(t *testing.T) {
	n := NewNode("self")
	n.AddPeer("B")
	n.AddPeer("C")
	for i := 0; i < 10; i++ {
		n.RecordReport("B", true)
		n.RecordReport("C", false)
	}
	n.UpdateAllScores()

	_, _, accurate := n.WeightedMajorityVoteDetailed(map[string]int{"B": 100, "C": 9999})
	if !accurate["B"] {
		t.Fatalf("expected B's matching vote marked accurate")
	}
	if accurate["C"] {
		t.Fatalf("expected C's outlier vote marked inaccurate")
	}
}

func TestRankedPeersMonotoneInTrustScore(t *testing.T) {
	n := NewNode("self")
	n.AddPeer("a")
	n.AddPeer("b")
	for i := 0; i < 10; i++ {
		n.RecordReport("a", true)
		n.RecordReport("b", false)
	}
	n.UpdateAllScores()

	ranked := n.GetRankedPeers()
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked peers, got %d", len(ranked))
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i-1].TrustScore() < ranked[i].TrustScore() {
			t.Fatalf("ranking not monotone in trust score: %+v", ranked)
		}
	}
}
