// Package dlib implements recognition.Extractor on top of dlib via go-face.
// It uses the 5-point shape predictor and the ResNet descriptor model.
package dlib

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"sync"
	"sync/atomic"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/MrCodeEU/facesweep/pkg/recognition"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// transcodeQuality is the JPEG quality used for images dlib cannot load.
const transcodeQuality = 95

// ModelFiles lists the files LoadModels expects in the model directory.
var ModelFiles = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

// engine is the subset of *face.Recognizer the extractor relies on.
type engine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// Extractor detects faces with dlib. The underlying recognizer is not safe
// for concurrent use, so every call is serialised.
type Extractor struct {
	mu        sync.Mutex
	engine    engine
	modelPath string
	open      func(dir string) (engine, error)

	// loaded mirrors engine != nil without taking mu, which is held for the
	// duration of a recognition.
	loaded atomic.Bool
}

// NewExtractor creates an Extractor without loaded models.
func NewExtractor() *Extractor {
	return &Extractor{
		open: func(dir string) (engine, error) {
			return face.NewRecognizer(dir)
		},
	}
}

// LoadModels loads the dlib models from modelPath. It is a no-op once the
// models are loaded; after a failure it may be called again.
func (e *Extractor) LoadModels(modelPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engine != nil {
		return nil
	}

	log := logging.Component("recognition")
	log.Infof("Loading face recognition models from: %s", modelPath)

	eng, err := e.open(modelPath)
	if err != nil {
		return fmt.Errorf("%w: %v", recognition.ErrModelLoad, err)
	}

	e.engine = eng
	e.modelPath = modelPath
	e.loaded.Store(true)
	log.Info("Face recognition models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (e *Extractor) IsLoaded() bool {
	return e.loaded.Load()
}

// Close releases the recognizer resources.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engine != nil {
		e.engine.Close()
		e.engine = nil
		e.loaded.Store(false)
	}
	return nil
}

type recognized struct {
	faces []face.Face
	err   error
}

// recognize runs the engine while honouring ctx. When ctx ends first the
// call returns immediately; the engine keeps the lock until it finishes so a
// following call cannot overlap it.
func (e *Extractor) recognize(ctx context.Context, data []byte) ([]face.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.engine == nil {
		e.mu.Unlock()
		return nil, recognition.ErrModelNotLoaded
	}
	eng := e.engine

	done := make(chan recognized, 1)
	go func() {
		defer e.mu.Unlock()
		faces, err := eng.Recognize(data)
		done <- recognized{faces: faces, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("face detection failed: %w", res.err)
		}
		return res.faces, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// asJPEG returns data as JPEG, the only format dlib loads from memory.
// JPEG input and bytes no registered codec recognises are returned as is.
func asJPEG(data []byte) ([]byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || format == "jpeg" {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: transcodeQuality}); err != nil {
		return nil, fmt.Errorf("failed to convert %s image to jpeg: %w", format, err)
	}
	logging.Debugf("Converted %s image to jpeg for detection", format)
	return buf.Bytes(), nil
}

// DetectAll detects all faces in an image. Any format with a registered
// decoder is accepted.
func (e *Extractor) DetectAll(ctx context.Context, data []byte) ([]recognition.Detection, error) {
	data, err := asJPEG(data)
	if err != nil {
		return nil, err
	}

	faces, err := e.recognize(ctx, data)
	if err != nil {
		return nil, err
	}

	result := make([]recognition.Detection, len(faces))
	for i, f := range faces {
		rect := f.Rectangle
		result[i] = recognition.Detection{
			Box: recognition.Rectangle{
				X:      rect.Min.X,
				Y:      rect.Min.Y,
				Width:  rect.Dx(),
				Height: rect.Dy(),
			},
			Descriptor: recognition.Descriptor(f.Descriptor),
		}
	}

	logging.Debugf("Detected %d face(s) in image", len(result))
	return result, nil
}

// DetectSingle returns the largest face in the image. dlib reports no
// detection score, so box area stands in for prominence.
func (e *Extractor) DetectSingle(ctx context.Context, data []byte) (*recognition.Detection, error) {
	detections, err := e.DetectAll(ctx, data)
	if err != nil {
		return nil, err
	}

	idx := recognition.Largest(detections)
	if idx < 0 {
		return nil, recognition.ErrNoFaceDetected
	}
	if len(detections) > 1 {
		logging.Component("recognition").Warnf("Multiple faces detected (%d), using the largest face", len(detections))
	}
	return &detections[idx], nil
}
