package batch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/recognition"
)

// Class is the classification of one gallery image.
type Class string

const (
	Matched   Class = "matched"
	Unmatched Class = "unmatched"
	NoFace    Class = "no_face"
)

// ImageResult is the outcome for one gallery image.
type ImageResult struct {
	Index       int                    `json:"index"`
	Name        string                 `json:"name"`
	Class       Class                  `json:"class"`
	Distance    *float64               `json:"distance,omitempty"` // set only when matched
	FaceCount   int                    `json:"face_count"`
	Box         *recognition.Rectangle `json:"box,omitempty"` // first matching face
	Elapsed     time.Duration          `json:"elapsed"`
	ProcessedAt time.Time              `json:"processed_at"`
	Err         string                 `json:"error,omitempty"`
}

// Summary is a read-only aggregate over a run's results.
type Summary struct {
	Total     int           `json:"total"`
	Matched   int           `json:"matched"`
	Unmatched int           `json:"unmatched"`
	NoFace    int           `json:"no_face"`
	Detected  int           `json:"detected"` // images with at least one face
	Matches   []ImageResult `json:"matches"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Summarize builds the aggregate for results, keeping their order.
func Summarize(results []ImageResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		s.Elapsed += r.Elapsed
		switch r.Class {
		case Matched:
			s.Matched++
			s.Matches = append(s.Matches, r)
		case Unmatched:
			s.Unmatched++
		case NoFace:
			s.NoFace++
		}
	}
	s.Detected = s.Matched + s.Unmatched
	return s
}

// Run is a completed (or cancelled) scan.
type Run struct {
	ID           string        `json:"id"`
	References   []string      `json:"references"`
	Threshold    float64       `json:"threshold"`
	GalleryCount int           `json:"gallery_count"`
	Results      []ImageResult `json:"results"`
	Summary      Summary       `json:"summary"`
	Started      time.Time     `json:"started"`
	Elapsed      time.Duration `json:"elapsed"`
	Cancelled    bool          `json:"cancelled"`

	// Gallery is the selection the run scanned; Results[i].Index points
	// into it.
	Gallery []Image `json:"-"`
}

// Reference returns the reference image names joined for display.
func (r *Run) Reference() string {
	return strings.Join(r.References, ", ")
}

// Image is one gallery input. Read is called once, when the image is
// processed, so large galleries are not held in memory.
type Image struct {
	Name string
	Read func() ([]byte, error)
}

// FileImage reads the image from path on demand.
func FileImage(path string) Image {
	return Image{
		Name: filepath.Base(path),
		Read: func() ([]byte, error) { return os.ReadFile(path) },
	}
}

// BytesImage wraps already loaded image data.
func BytesImage(name string, data []byte) Image {
	return Image{
		Name: name,
		Read: func() ([]byte, error) { return data, nil },
	}
}

// ImageExtensions are the file extensions picked up when a directory is
// given as gallery input.
var ImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

// CollectFiles turns gallery arguments into images. Files are kept as
// given; directories are walked and their image files added in lexical
// order.
func CollectFiles(paths []string) ([]Image, error) {
	var images []Image
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			images = append(images, FileImage(p))
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && ImageExtensions[strings.ToLower(filepath.Ext(path))] {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		for _, f := range found {
			images = append(images, FileImage(f))
		}
	}
	return images, nil
}
