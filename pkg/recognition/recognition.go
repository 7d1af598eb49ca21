// Package recognition defines the face extraction contract used by the
// scanner: descriptors, detections and the Extractor interface.
// The dlib backed implementation lives in the dlib subpackage so that the
// matching and batch logic can be built and tested without cgo.
package recognition

import (
	"context"
	"errors"
	"math"
)

// DescriptorSize is the length of a dlib face descriptor.
const DescriptorSize = 128

// Descriptor is a 128-dimensional face embedding.
type Descriptor [DescriptorSize]float32

// Rectangle is a face bounding box in image pixels.
type Rectangle struct {
	X, Y          int
	Width, Height int
}

// Area returns the box area in square pixels.
func (r Rectangle) Area() int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Detection is one face found in an image.
type Detection struct {
	Box        Rectangle
	Descriptor Descriptor
}

// Extractor finds faces in encoded images (jpeg, png, ...).
type Extractor interface {
	// DetectAll returns every face in the image. An image without faces
	// yields an empty slice and no error.
	DetectAll(ctx context.Context, image []byte) ([]Detection, error)

	// DetectSingle returns the most prominent face in the image, or
	// ErrNoFaceDetected.
	DetectSingle(ctx context.Context, image []byte) (*Detection, error)
}

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when detection is attempted before LoadModels.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrModelLoad wraps any failure to load the recognition models. Detection
// is unavailable until a later load succeeds.
var ErrModelLoad = errors.New("face detection unavailable: failed to load models")

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// Largest returns the index of the detection with the biggest box, or -1
// for an empty slice. Ties keep the earlier detection.
func Largest(detections []Detection) int {
	best := -1
	bestArea := -1
	for i, d := range detections {
		if a := d.Box.Area(); a > bestArea {
			best, bestArea = i, a
		}
	}
	return best
}
