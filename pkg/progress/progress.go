// Package progress tracks per-image timing during a scan and derives the
// percent complete and the estimated time remaining.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/schollz/progressbar/v3"
)

// Snapshot is the progress state after an image has been processed.
type Snapshot struct {
	Current   int           `json:"current"`
	Total     int           `json:"total"`
	Percent   float64       `json:"percent"`
	Name      string        `json:"name"`
	Last      time.Duration `json:"last"`
	Average   time.Duration `json:"average"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
}

// Tracker accumulates per-image durations. The zero value is not usable;
// create it with NewTracker.
type Tracker struct {
	total   int
	count   int
	elapsed time.Duration
}

// NewTracker creates a tracker for total images.
func NewTracker(total int) *Tracker {
	return &Tracker{total: total}
}

// Observe records one processed image and returns the updated snapshot.
// The remaining time is the rolling average per image multiplied by the
// number of images left.
func (t *Tracker) Observe(name string, d time.Duration) Snapshot {
	t.count++
	t.elapsed += d
	return t.snapshot(name, d)
}

// Snapshot returns the current state without recording anything.
func (t *Tracker) Snapshot() Snapshot {
	return t.snapshot("", 0)
}

func (t *Tracker) snapshot(name string, last time.Duration) Snapshot {
	s := Snapshot{
		Current: t.count,
		Total:   t.total,
		Name:    name,
		Last:    last,
		Elapsed: t.elapsed,
	}
	if t.total > 0 {
		s.Percent = float64(t.count) / float64(t.total) * 100
	}
	if t.count > 0 {
		s.Average = t.elapsed / time.Duration(t.count)
		if left := t.total - t.count; left > 0 {
			s.Remaining = s.Average * time.Duration(left)
		}
	}
	return s
}

// Reporter receives progress as a scan advances.
type Reporter interface {
	Begin(total int)
	Update(s Snapshot)
	End()
}

// Nop discards progress.
type Nop struct{}

func (Nop) Begin(int)       {}
func (Nop) Update(Snapshot) {}
func (Nop) End()            {}

// Multi fans progress out to several reporters.
type Multi []Reporter

func (m Multi) Begin(total int) {
	for _, r := range m {
		r.Begin(total)
	}
}

func (m Multi) Update(s Snapshot) {
	for _, r := range m {
		r.Update(s)
	}
}

func (m Multi) End() {
	for _, r := range m {
		r.End()
	}
}

// Log writes one debug entry per image and an info entry at the end.
type Log struct{}

func (Log) Begin(total int) {
	logging.Component("progress").Infof("Scanning %d gallery image(s)", total)
}

func (Log) Update(s Snapshot) {
	logging.Component("progress").WithFields(logging.Fields{
		"image":     s.Name,
		"current":   s.Current,
		"total":     s.Total,
		"percent":   fmt.Sprintf("%.1f", s.Percent),
		"remaining": FormatSeconds(s.Remaining),
	}).Debug("Image processed")
}

func (Log) End() {}

// Bar renders a terminal progress bar.
type Bar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewBar creates a bar that draws on w (normally stderr).
func NewBar(w io.Writer) *Bar {
	return &Bar{w: w}
}

func (b *Bar) Begin(total int) {
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 Scanning gallery"),
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionFullWidth(),
	)
}

func (b *Bar) Update(s Snapshot) {
	if b.bar == nil {
		return
	}
	b.bar.Describe(fmt.Sprintf("🔍 %s remaining", FormatSeconds(s.Remaining)))
	_ = b.bar.Set(s.Current)
}

func (b *Bar) End() {
	if b.bar == nil {
		return
	}
	_ = b.bar.Finish()
	fmt.Fprintln(b.w)
}

// FormatSeconds renders d as seconds with two decimals, e.g. "3.25 seconds".
func FormatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.2f seconds", d.Seconds())
}
