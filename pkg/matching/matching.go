// Package matching holds the reference descriptor store and the pure
// best-match decision used to flag gallery faces.
package matching

import (
	"math"

	"github.com/MrCodeEU/facesweep/pkg/recognition"
)

// DefaultThreshold is the distance threshold used when none (or an invalid
// one) is configured.
const DefaultThreshold = 0.6

// NormalizeThreshold returns t when it lies in (0, 1]. Anything else,
// including NaN, is replaced by DefaultThreshold and ok is false.
func NormalizeThreshold(t float64) (threshold float64, ok bool) {
	if math.IsNaN(t) || t <= 0 || t > 1 {
		return DefaultThreshold, false
	}
	return t, true
}

// LabeledDescriptor ties reference descriptors to an identity label.
type LabeledDescriptor struct {
	Label       string
	Descriptors []recognition.Descriptor
}

// Result is the outcome of matching one descriptor.
type Result struct {
	Label    string
	Distance float64
	IsMatch  bool
}

// Match compares d against every descriptor in the snapshot and keeps the
// global minimum distance. The first descriptor reaching the minimum wins.
// An empty snapshot never matches.
func Match(d recognition.Descriptor, snapshot []LabeledDescriptor, threshold float64) Result {
	best := Result{Distance: math.Inf(1)}
	for _, ld := range snapshot {
		for _, ref := range ld.Descriptors {
			if dist := recognition.EuclideanDistance(d, ref); dist < best.Distance {
				best.Distance = dist
				best.Label = ld.Label
			}
		}
	}
	best.IsMatch = !math.IsInf(best.Distance, 1) && best.Distance <= threshold
	return best
}

// MatchAny decides for a whole image. It returns the best result over all
// detections and the index of the first detection that matches, or -1.
// The image matches when any of its faces matches.
func MatchAny(detections []recognition.Detection, snapshot []LabeledDescriptor, threshold float64) (Result, int) {
	best := Result{Distance: math.Inf(1)}
	first := -1
	for i, det := range detections {
		res := Match(det.Descriptor, snapshot, threshold)
		if res.IsMatch && first < 0 {
			first = i
		}
		if res.Distance < best.Distance {
			best = res
		}
	}
	return best, first
}
