package counter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStabilizerEchoesRawDuringWarmup(t *testing.T) {
	s := NewStabilizer(5)
	if got := s.Update(4); got != 4 {
		t.Fatalf("first sample: got %d", got)
	}
	if got := s.Update(9); got != 9 {
		t.Fatalf("second sample: got %d", got)
	}
	if got := s.Update(5); got != 5 {
		t.Fatalf("median of 4,9,5: got %d", got)
	}
}

func TestStabilizerEvenWindowUsesLowerMiddle(t *testing.T) {
	s := NewStabilizer(5)
	var got []int
	for _, v := range []int{1, 2, 3, 4} {
		got = append(got, s.Update(v))
	}
	if diff := cmp.Diff([]int{1, 2, 2, 2}, got); diff != "" {
		t.Fatalf("stable values (-want +got):\n%s", diff)
	}
}

func TestStabilizerEvictsOldest(t *testing.T) {
	s := NewStabilizer(5)
	for _, v := range []int{1, 2, 3, 4, 5, 9} {
		s.Update(v)
	}
	if diff := cmp.Diff([]int{2, 3, 4, 5, 9}, s.History()); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
	if got := s.Update(9); got != 5 {
		t.Fatalf("median of 3,4,5,9,9: got %d", got)
	}
}

func TestStabilizerRejectsSingleOutlier(t *testing.T) {
	s := NewStabilizer(5)
	for _, v := range []int{6, 6, 6, 6} {
		s.Update(v)
	}
	if got := s.Update(0); got != 6 {
		t.Fatalf("expected outlier to be smoothed, got %d", got)
	}
}

func TestStabilizerReset(t *testing.T) {
	s := NewStabilizer(5)
	s.Update(3)
	s.Update(3)
	s.Reset()
	if len(s.History()) != 0 {
		t.Fatalf("history not cleared")
	}
	if got := s.Update(7); got != 7 {
		t.Fatalf("expected warmup echo after reset, got %d", got)
	}
}

func TestStabilizerSmallWindow(t *testing.T) {
	s := NewStabilizer(2)
	s.Update(4)
	if got := s.Update(8); got != 4 {
		t.Fatalf("window of 2 should take the lower value, got %d", got)
	}
}
