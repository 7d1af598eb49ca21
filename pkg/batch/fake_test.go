package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/MrCodeEU/facesweep/pkg/recognition"
)

// fakeExtractor answers by image content: each key is the raw bytes of a
// fake image.
type fakeExtractor struct {
	mu     sync.Mutex
	faces  map[string][]recognition.Detection
	errs   map[string]error
	block  map[string]chan struct{}
	calls  int
	onCall func(image string)
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		faces: map[string][]recognition.Detection{},
		errs:  map[string]error{},
		block: map[string]chan struct{}{},
	}
}

// face registers one detection at dist from the zero reference descriptor.
func (f *fakeExtractor) face(image string, dists ...float32) *fakeExtractor {
	for i, d := range dists {
		f.faces[image] = append(f.faces[image], recognition.Detection{
			Box:        recognition.Rectangle{X: i * 10, Y: 0, Width: 10, Height: 10},
			Descriptor: recognition.Descriptor{d},
		})
	}
	return f
}

func (f *fakeExtractor) DetectAll(ctx context.Context, image []byte) ([]recognition.Detection, error) {
	key := string(image)
	f.mu.Lock()
	f.calls++
	onCall := f.onCall
	block := f.block[key]
	err := f.errs[key]
	dets := f.faces[key]
	f.mu.Unlock()

	if onCall != nil {
		onCall(key)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return append([]recognition.Detection(nil), dets...), nil
}

func (f *fakeExtractor) DetectSingle(ctx context.Context, image []byte) (*recognition.Detection, error) {
	dets, err := f.DetectAll(ctx, image)
	if err != nil {
		return nil, err
	}
	idx := recognition.Largest(dets)
	if idx < 0 {
		return nil, recognition.ErrNoFaceDetected
	}
	return &dets[idx], nil
}

var errUnreadable = errors.New("unreadable file")

func failingImage(name string) Image {
	return Image{Name: name, Read: func() ([]byte, error) { return nil, errUnreadable }}
}
