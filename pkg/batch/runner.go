// Package batch runs a gallery scan against the registered reference faces.
//
// A Runner is the session object: it owns the reference store, the gallery
// selection and the results of the last run, and exposes them through
// explicit commands (RegisterReference, SetGallery, Start, Reset) that a CLI
// or web layer invokes. Images are processed strictly one at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/MrCodeEU/facesweep/pkg/matching"
	"github.com/MrCodeEU/facesweep/pkg/progress"
	"github.com/MrCodeEU/facesweep/pkg/recognition"
	"github.com/google/uuid"
)

// State is the lifecycle state of a Runner.
type State int

const (
	Idle State = iota
	Running
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrMissingInputs is returned by Start when the reference or the gallery
// has not been supplied.
var ErrMissingInputs = errors.New("missing inputs")

// ErrRunInProgress is returned by commands that cannot run while a scan is
// active.
var ErrRunInProgress = errors.New("a scan is already in progress")

// DefaultLabel is the identity label given to registered reference faces.
const DefaultLabel = "Suspect"

// DefaultExtractTimeout bounds a single image's face extraction.
const DefaultExtractTimeout = 30 * time.Second

// Options configures a Runner.
type Options struct {
	Label          string
	Threshold      float64
	ExtractTimeout time.Duration
	Reporter       progress.Reporter
}

// Runner is a single scanning session.
type Runner struct {
	extractor recognition.Extractor
	label     string
	timeout   time.Duration
	reporter  progress.Reporter

	mu         sync.Mutex
	store      *matching.Store
	references []string
	gallery    []Image
	threshold  float64
	state      State
	results    []ImageResult
	progress   progress.Snapshot
	last       *Run
}

// NewRunner creates an idle session using extractor for face detection.
func NewRunner(extractor recognition.Extractor, opts Options) *Runner {
	r := &Runner{
		extractor: extractor,
		label:     opts.Label,
		timeout:   opts.ExtractTimeout,
		reporter:  opts.Reporter,
		store:     matching.NewStore(),
	}
	if r.label == "" {
		r.label = DefaultLabel
	}
	if r.timeout <= 0 {
		r.timeout = DefaultExtractTimeout
	}
	if r.reporter == nil {
		r.reporter = progress.Nop{}
	}
	r.threshold = normalize(opts.Threshold)
	return r
}

func normalize(t float64) float64 {
	th, ok := matching.NormalizeThreshold(t)
	if !ok {
		logging.Component("batch").Warnf("Invalid threshold %v, using default %.2f", t, th)
	}
	return th
}

// RegisterReference extracts the face from a reference image and adds it to
// the store. It returns recognition.ErrNoFaceDetected when the image has no
// face; the store is left unchanged in that case.
func (r *Runner) RegisterReference(ctx context.Context, name string, data []byte) error {
	if r.State() == Running {
		return ErrRunInProgress
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	det, err := r.extractor.DetectSingle(ctx, data)
	if err != nil {
		if errors.Is(err, recognition.ErrNoFaceDetected) {
			logging.Component("batch").Warnf("No face detected in the reference image %s", name)
		}
		return fmt.Errorf("registering reference %s: %w", name, err)
	}

	r.LoadReference(name, det.Descriptor)
	logging.Component("batch").Infof("Reference face loaded from %s", name)
	return nil
}

// LoadReference adds already extracted descriptors, e.g. from a stored
// profile, under the session label.
func (r *Runner) LoadReference(name string, descriptors ...recognition.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range descriptors {
		r.store.Add(r.label, d)
	}
	if len(descriptors) > 0 {
		r.references = append(r.references, name)
	}
}

// SetGallery replaces the gallery selection.
func (r *Runner) SetGallery(images []Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Running {
		return ErrRunInProgress
	}
	r.gallery = append([]Image(nil), images...)
	return nil
}

// SetThreshold changes the match threshold for the next run. Invalid values
// are replaced by matching.DefaultThreshold.
func (r *Runner) SetThreshold(t float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Running {
		return ErrRunInProgress
	}
	r.threshold = normalize(t)
	return nil
}

// Threshold returns the threshold the next run will use.
func (r *Runner) Threshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

// CanStart reports whether both a reference and a gallery are present.
func (r *Runner) CanStart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != Running && r.store.Len() > 0 && len(r.gallery) > 0
}

// HasReference reports whether at least one reference face is registered.
func (r *Runner) HasReference() bool {
	return r.store.Len() > 0
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns the latest progress snapshot.
func (r *Runner) Progress() progress.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Results returns a copy of the results collected so far.
func (r *Runner) Results() []ImageResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ImageResult(nil), r.results...)
}

// LastRun returns the most recent completed run, or nil.
func (r *Runner) LastRun() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Gallery returns the current gallery selection.
func (r *Runner) Gallery() []Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Image(nil), r.gallery...)
}

// Reset clears the reference store, gallery and results and returns the
// session to Idle.
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Running {
		return ErrRunInProgress
	}
	r.store.Clear()
	r.references = nil
	r.gallery = nil
	r.results = nil
	r.progress = progress.Snapshot{}
	r.last = nil
	r.state = Idle
	logging.Component("batch").Debug("Session reset")
	return nil
}

// Start scans the gallery. It fails with ErrMissingInputs, without changing
// state, when the reference or gallery is missing. When ctx is cancelled the
// scan stops at the next image boundary; the partial run is returned
// together with the context error.
func (r *Runner) Start(ctx context.Context) (*Run, error) {
	r.mu.Lock()
	if err := r.checkStart(len(r.gallery)); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	return r.start(ctx)
}

// StartWith selects images and threshold and starts a scan over them in
// one step. When the scan cannot start, the previous selection is kept.
func (r *Runner) StartWith(ctx context.Context, images []Image, threshold float64) (*Run, error) {
	r.mu.Lock()
	if err := r.checkStart(len(images)); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.gallery = append([]Image(nil), images...)
	r.threshold = normalize(threshold)
	return r.start(ctx)
}

// checkStart reports why a scan over n gallery images cannot start.
// r.mu must be held.
func (r *Runner) checkStart(n int) error {
	if r.state == Running {
		return ErrRunInProgress
	}
	if r.store.Len() == 0 {
		return fmt.Errorf("%w: no reference face registered", ErrMissingInputs)
	}
	if n == 0 {
		return fmt.Errorf("%w: no gallery images selected", ErrMissingInputs)
	}
	return nil
}

// start runs the scan. It is called with r.mu held and releases it.
func (r *Runner) start(ctx context.Context) (*Run, error) {
	gallery := append([]Image(nil), r.gallery...)
	run := &Run{
		ID:           uuid.NewString(),
		References:   append([]string(nil), r.references...),
		Threshold:    r.threshold,
		GalleryCount: len(gallery),
		Started:      time.Now(),
		Gallery:      gallery,
	}
	snapshot := r.store.Snapshot()
	tracker := progress.NewTracker(len(gallery))

	r.state = Running
	r.results = make([]ImageResult, 0, len(gallery))
	r.progress = tracker.Snapshot()
	r.mu.Unlock()

	log := logging.Component("batch").WithField("run", run.ID)
	log.Infof("Starting face detection on %d image(s), threshold %.2f", len(gallery), run.Threshold)
	r.reporter.Begin(len(gallery))

	var runErr error
	for i, img := range gallery {
		if err := ctx.Err(); err != nil {
			run.Cancelled = true
			runErr = err
			log.Warnf("Scan cancelled after %d of %d image(s)", i, len(gallery))
			break
		}

		res := r.process(ctx, i, img, snapshot, run.Threshold)
		if res.Err != "" && ctx.Err() != nil {
			// Interrupted mid-image; the image was not really analysed.
			run.Cancelled = true
			runErr = ctx.Err()
			log.Warnf("Scan cancelled after %d of %d image(s)", i, len(gallery))
			break
		}
		snap := tracker.Observe(img.Name, res.Elapsed)

		r.mu.Lock()
		r.results = append(r.results, res)
		r.progress = snap
		r.mu.Unlock()
		r.reporter.Update(snap)
	}
	r.reporter.End()

	r.mu.Lock()
	run.Results = append([]ImageResult(nil), r.results...)
	run.Summary = Summarize(run.Results)
	run.Elapsed = time.Since(run.Started)
	r.state = Completed
	r.last = run
	r.mu.Unlock()

	log.WithFields(logging.Fields{
		"matched":   run.Summary.Matched,
		"unmatched": run.Summary.Unmatched,
		"no_face":   run.Summary.NoFace,
	}).Infof("Time taken for face detection: %s", progress.FormatSeconds(run.Summary.Elapsed))

	return run, runErr
}

// process classifies one image. Failures never abort the run: an image that
// cannot be read or analysed is recorded as NoFace with the error attached.
func (r *Runner) process(ctx context.Context, index int, img Image, snapshot []matching.LabeledDescriptor, threshold float64) (res ImageResult) {
	start := time.Now()
	res = ImageResult{Index: index, Name: img.Name, Class: NoFace}
	log := logging.Component("batch").WithField("image", img.Name)
	log.Debug("Processing gallery image")

	defer func() {
		res.Elapsed = time.Since(start)
		res.ProcessedAt = time.Now()
	}()

	data, err := img.Read()
	if err != nil {
		log.WithError(err).Warn("Failed to read gallery image")
		res.Err = err.Error()
		return res
	}

	dets, err := r.extract(ctx, data)
	if err != nil {
		log.WithError(err).Warn("Face extraction failed")
		res.Err = err.Error()
		return res
	}

	res.FaceCount = len(dets)
	if len(dets) == 0 {
		log.Debug("No face detected")
		return res
	}

	best, first := matching.MatchAny(dets, snapshot, threshold)
	if first < 0 {
		res.Class = Unmatched
		log.WithField("distance", best.Distance).Debug("No match")
		return res
	}

	dist := best.Distance
	box := dets[first].Box
	res.Class = Matched
	res.Distance = &dist
	res.Box = &box
	log.WithField("distance", fmt.Sprintf("%.2f", dist)).Infof("Match found: %s", best.Label)
	return res
}

func (r *Runner) extract(ctx context.Context, data []byte) (dets []recognition.Detection, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("face extractor panicked: %v", p)
		}
	}()
	return r.extractor.DetectAll(ctx, data)
}
