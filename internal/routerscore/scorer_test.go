package routerscore

import "testing"

func TestPriorsAreAtLeastOne(t *testing.T) {
	s := New()
	st := s.Snapshot("p1:gpt-4o")
	if st.Alpha < 1 || st.Beta < 1 {
		t.Fatalf("prior stats = %+v, want alpha >= 1 and beta >= 1", st)
	}
}

func TestUpdateIncrementsAlphaOnSuccess(t *testing.T) {
	s := New()
	before := s.Snapshot("p1:gpt-4o").Alpha
	s.Update("p1:gpt-4o", true, 100)
	after := s.Snapshot("p1:gpt-4o").Alpha
	if after <= before {
		t.Fatalf("alpha did not increase on success: %v -> %v", before, after)
	}
}

func TestUpdateIncrementsBetaOnFailure(t *testing.T) {
	s := New()
	before := s.Snapshot("p1:gpt-4o").Beta
	s.Update("p1:gpt-4o", false, 0)
	after := s.Snapshot("p1:gpt-4o").Beta
	if after <= before {
		t.Fatalf("beta did not increase on failure: %v -> %v", before, after)
	}
}

func TestAlphaBetaNeverBelowOne(t *testing.T) {
	s := New()
	for i := 0; i < 50; i++ {
		s.Update("p1:gpt-4o", i%2 == 0, 500)
	}
	st := s.Snapshot("p1:gpt-4o")
	if st.Alpha < 1 || st.Beta < 1 {
		t.Fatalf("invariant violated after updates: %+v", st)
	}
}

func TestScoreInRange(t *testing.T) {
	s := New()
	s.Update("p1:gpt-4o", true, 200)
	for i := 0; i < 100; i++ {
		score := s.Score("p1:gpt-4o")
		if score < 0 || score > 1.1 {
			t.Fatalf("score out of plausible range: %v", score)
		}
	}
}

func TestLatencyEWMAUpdates(t *testing.T) {
	s := New()
	s.Update("p1:gpt-4o", true, 1000)
	first := s.Snapshot("p1:gpt-4o").LatencyEWMA
	if first == seedLatencyMs {
		t.Fatal("expected latency EWMA to move away from the seed value")
	}
}
