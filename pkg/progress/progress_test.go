package progress

import (
	"bytes"
	"testing"
	"time"
)

func TestTracker_Observe(t *testing.T) {
	tr := NewTracker(4)

	s := tr.Observe("a.jpg", 2*time.Second)
	if s.Current != 1 || s.Total != 4 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.Percent != 25 {
		t.Errorf("Percent = %v, want 25", s.Percent)
	}
	if s.Remaining != 6*time.Second {
		t.Errorf("Remaining = %v, want 6s", s.Remaining)
	}

	s = tr.Observe("b.jpg", 4*time.Second)
	if s.Average != 3*time.Second {
		t.Errorf("Average = %v, want 3s", s.Average)
	}
	if s.Remaining != 6*time.Second {
		t.Errorf("Remaining = %v, want 6s (2 left at 3s)", s.Remaining)
	}
	if s.Elapsed != 6*time.Second {
		t.Errorf("Elapsed = %v, want 6s", s.Elapsed)
	}
	if s.Name != "b.jpg" || s.Last != 4*time.Second {
		t.Errorf("last image not recorded: %+v", s)
	}

	tr.Observe("c.jpg", time.Second)
	s = tr.Observe("d.jpg", time.Second)
	if s.Percent != 100 || s.Remaining != 0 {
		t.Errorf("finished tracker: %+v", s)
	}
}

func TestTracker_EmptySnapshot(t *testing.T) {
	s := NewTracker(0).Snapshot()
	if s.Percent != 0 || s.Average != 0 || s.Remaining != 0 {
		t.Errorf("empty tracker should report zeros: %+v", s)
	}
}

type recorder struct {
	begun   int
	updates []Snapshot
	ended   bool
}

func (r *recorder) Begin(total int)   { r.begun = total }
func (r *recorder) Update(s Snapshot) { r.updates = append(r.updates, s) }
func (r *recorder) End()              { r.ended = true }

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, Nop{}, b}

	m.Begin(3)
	m.Update(Snapshot{Current: 1})
	m.End()

	for _, r := range []*recorder{a, b} {
		if r.begun != 3 || len(r.updates) != 1 || !r.ended {
			t.Errorf("reporter not driven: %+v", r)
		}
	}
}

func TestBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBar(&buf)

	// Updates before Begin are ignored.
	bar.Update(Snapshot{Current: 1})

	bar.Begin(2)
	bar.Update(Snapshot{Current: 1, Total: 2, Remaining: time.Second})
	bar.Update(Snapshot{Current: 2, Total: 2})
	bar.End()

	if buf.Len() == 0 {
		t.Error("bar wrote nothing")
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := FormatSeconds(3250 * time.Millisecond); got != "3.25 seconds" {
		t.Errorf("FormatSeconds = %q", got)
	}
}
