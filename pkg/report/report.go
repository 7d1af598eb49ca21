// Package report aggregates scan results into a summary and renders it as
// plain text, HTML or a PDF of the flagged images.
package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/batch"
)

// NotProvided is shown for case fields the investigator left empty.
const NotProvided = "Not Provided"

// Case is the free-text metadata attached to a report.
type Case struct {
	Number  string `json:"case_number"`
	Name    string `json:"case_name"`
	Details string `json:"case_details"`
}

func (c Case) withDefaults() Case {
	if c.Number == "" {
		c.Number = NotProvided
	}
	if c.Name == "" {
		c.Name = NotProvided
	}
	if c.Details == "" {
		c.Details = NotProvided
	}
	return c
}

// Match is one flagged gallery image.
type Match struct {
	ImageName  string  `json:"image_name"`
	Confidence string  `json:"confidence"`
	Distance   float64 `json:"distance"`
}

// Unknown is a gallery image that was not flagged, with the reason.
type Unknown struct {
	ImageName string `json:"image_name"`
	Reason    string `json:"reason"`
}

const (
	reasonNoMatch = "no matching face"
	reasonNoFace  = "no face detected"
)

// Report is the aggregated outcome of a scan.
type Report struct {
	Case           Case          `json:"case"`
	GalleryCount   int           `json:"gallery_count"`
	ReferenceName  string        `json:"reference_name"`
	Threshold      float64       `json:"threshold"`
	DetectedCount  int           `json:"detected_count"`
	MatchedCount   int           `json:"matched_count"`
	UnmatchedCount int           `json:"unmatched_count"`
	NoFaceCount    int           `json:"no_face_count"`
	Matches        []Match       `json:"matches"`
	Unknown        []Unknown     `json:"unknown"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Build aggregates results in input order. It has no side effects.
func Build(results []batch.ImageResult, threshold float64, galleryCount int, referenceName string, c Case) Report {
	s := batch.Summarize(results)
	r := Report{
		Case:           c.withDefaults(),
		GalleryCount:   galleryCount,
		ReferenceName:  referenceName,
		Threshold:      threshold,
		DetectedCount:  s.Detected,
		MatchedCount:   s.Matched,
		UnmatchedCount: s.Unmatched,
		NoFaceCount:    s.NoFace,
		Elapsed:        s.Elapsed,
	}
	if r.ReferenceName == "" {
		r.ReferenceName = NotProvided
	}

	for _, res := range results {
		switch res.Class {
		case batch.Matched:
			var d float64
			if res.Distance != nil {
				d = *res.Distance
			}
			r.Matches = append(r.Matches, Match{
				ImageName:  res.Name,
				Confidence: fmt.Sprintf("%.2f", d),
				Distance:   d,
			})
		case batch.Unmatched:
			r.Unknown = append(r.Unknown, Unknown{ImageName: res.Name, Reason: reasonNoMatch})
		default:
			reason := reasonNoFace
			if res.Err != "" {
				reason = res.Err
			}
			r.Unknown = append(r.Unknown, Unknown{ImageName: res.Name, Reason: reason})
		}
	}
	return r
}

// FromRun builds the report for a finished run.
func FromRun(run *batch.Run, c Case) Report {
	return Build(run.Results, run.Threshold, run.GalleryCount, run.Reference(), c)
}

// ThresholdString formats the threshold the way the investigator typed it.
func (r Report) ThresholdString() string {
	return strconv.FormatFloat(r.Threshold, 'f', -1, 64)
}

// ElapsedString is the total detection time in seconds.
func (r Report) ElapsedString() string {
	return fmt.Sprintf("%.2f seconds", r.Elapsed.Seconds())
}
