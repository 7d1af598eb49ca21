package report

import (
	"bufio"
	"fmt"
	"io"
)

// TextFilename is the suggested name for the text download.
const TextFilename = "Face_Detection_Report.txt"

// WriteText writes the plain-text export.
func WriteText(w io.Writer, r Report) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Face Detection Report\n\n")
	fmt.Fprintf(bw, "Case Number: %s\n", r.Case.Number)
	fmt.Fprintf(bw, "Case Name: %s\n", r.Case.Name)
	fmt.Fprintf(bw, "Other Details: %s\n", r.Case.Details)
	fmt.Fprintf(bw, "Total Gallery Images: %d\n", r.GalleryCount)
	fmt.Fprintf(bw, "Reference Image: %s\n", r.ReferenceName)
	fmt.Fprintf(bw, "Detection Threshold: %s\n", r.ThresholdString())
	fmt.Fprintf(bw, "Images With Faces Detected: %d\n", r.DetectedCount)
	fmt.Fprintf(bw, "Matching Faces Found: %d\n\n", r.MatchedCount)

	if len(r.Matches) > 0 {
		fmt.Fprintf(bw, "Match Details:\n")
		for _, m := range r.Matches {
			fmt.Fprintf(bw, "- Match in %s with confidence %s\n", m.ImageName, m.Confidence)
		}
	} else {
		fmt.Fprintf(bw, "No matching faces found.\n")
	}

	if len(r.Unknown) > 0 {
		fmt.Fprintf(bw, "\nUnknown Images:\n")
		for _, u := range r.Unknown {
			fmt.Fprintf(bw, "- %s (%s)\n", u.ImageName, u.Reason)
		}
	}

	fmt.Fprintf(bw, "\nTime taken for face detection: %s\n", r.ElapsedString())
	return bw.Flush()
}
