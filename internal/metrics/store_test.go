package metrics

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLinksAreIndependent(t *testing.T) {
	s := NewStore()
	if !s.SetConnected(LinkRealtime, true) {
		t.Fatalf("first state should be a change")
	}
	if s.SetConnected(LinkRealtime, true) {
		t.Fatalf("same state should not be a change")
	}
	if !s.Observe(LinkCloud, errors.New("timeout")) {
		t.Fatalf("first cloud failure should be a change")
	}
	if s.Observe(LinkCloud, errors.New("timeout again")) {
		t.Fatalf("second failure should not be a change")
	}

	rt, _ := s.Link(LinkRealtime)
	cl, _ := s.Link(LinkCloud)
	if !rt.Connected || cl.Connected {
		t.Fatalf("unexpected links realtime=%+v cloud=%+v", rt, cl)
	}
	if cl.Failures != 2 || cl.LastError != "timeout again" {
		t.Fatalf("unexpected cloud state %+v", cl)
	}

	if !s.Observe(LinkCloud, nil) {
		t.Fatalf("recovery should be a change")
	}
	cl, _ = s.Link(LinkCloud)
	if !cl.Connected || cl.LastError != "" {
		t.Fatalf("recovery should clear the error, got %+v", cl)
	}
}

func TestCounters(t *testing.T) {
	s := NewStore()
	s.Inc("frames")
	s.Inc("frames")
	s.Add("batches", 3)
	if diff := cmp.Diff([]string{"batches", "frames"}, s.CounterNames()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	snap := s.Snapshot()
	if snap.Counters["frames"] != 2 || snap.Counters["batches"] != 3 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
	s.Clear()
	if s.Counter("frames") != 0 {
		t.Fatalf("clear should reset counters")
	}
}
