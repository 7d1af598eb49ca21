package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrCodeEU/facesweep/pkg/batch"
	"github.com/MrCodeEU/facesweep/pkg/config"
	"github.com/MrCodeEU/facesweep/pkg/recognition"
	"github.com/MrCodeEU/facesweep/pkg/recognition/dlib"
)

// fakeExtractor answers by file content.
type fakeExtractor struct {
	faces   map[string][]recognition.Detection
	loadErr error
	closed  bool
}

func (f *fakeExtractor) LoadModels(string) error { return f.loadErr }
func (f *fakeExtractor) IsLoaded() bool          { return f.loadErr == nil }
func (f *fakeExtractor) Close() error            { f.closed = true; return nil }

func (f *fakeExtractor) DetectAll(ctx context.Context, image []byte) ([]recognition.Detection, error) {
	return f.faces[string(image)], nil
}

func (f *fakeExtractor) DetectSingle(ctx context.Context, image []byte) (*recognition.Detection, error) {
	dets := f.faces[string(image)]
	if i := recognition.Largest(dets); i >= 0 {
		return &dets[i], nil
	}
	return nil, recognition.ErrNoFaceDetected
}

func detection(dist float32) []recognition.Detection {
	return []recognition.Detection{{
		Box:        recognition.Rectangle{X: 4, Y: 4, Width: 10, Height: 10},
		Descriptor: recognition.Descriptor{dist},
	}}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	dir       string
	reference string
	blank     string
	gallery   string
	fake      *fakeExtractor
}

// setup points the global config at a temp dir and installs a fake
// extractor. The gallery holds A (0.45 from the reference), B (0.7) and C
// (no face).
func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg = config.DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.EncryptionEnabled = false
	cfg.Recognition.ModelPath = filepath.Join(dir, "models")
	cfg.Report.OutputDir = filepath.Join(dir, "out")

	pngA := pngBytes(t)
	f := &fixture{
		dir:       dir,
		reference: filepath.Join(dir, "suspect.jpg"),
		blank:     filepath.Join(dir, "blank.jpg"),
		gallery:   filepath.Join(dir, "gallery"),
		fake: &fakeExtractor{faces: map[string][]recognition.Detection{
			"ref":        detection(0),
			string(pngA): detection(0.45),
			"B":          detection(0.7),
		}},
	}

	write := func(path string, data []byte) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(f.reference, []byte("ref"))
	write(f.blank, []byte("blank"))
	write(filepath.Join(f.gallery, "A.png"), pngA)
	write(filepath.Join(f.gallery, "B.jpg"), []byte("B"))
	write(filepath.Join(f.gallery, "C.jpg"), []byte("C"))

	orig := newExtractor
	newExtractor = func() modelExtractor { return f.fake }
	t.Cleanup(func() { newExtractor = orig })
	return f
}

func scanDefaults() scanOptions {
	return scanOptions{threshold: 0.6, timeout: time.Second, quiet: true}
}

func TestRunScan_Reference(t *testing.T) {
	f := setup(t)

	opts := scanDefaults()
	opts.reference = f.reference
	opts.caseName = "Shop theft"
	opts.htmlOut = "report.html"
	opts.pdfOut = "flagged.pdf"

	var out bytes.Buffer
	if err := runScan(context.Background(), opts, []string{f.gallery}, &out); err != nil {
		t.Fatalf("runScan failed: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Case Name: Shop theft",
		"Reference Image: suspect.jpg",
		"Total Gallery Images: 3",
		"Images With Faces Detected: 2",
		"Matching Faces Found: 1",
		"- Match in A.png with confidence 0.45",
		"- C.jpg (no face detected)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("text report missing %q:\n%s", want, text)
		}
	}

	html, err := os.ReadFile(filepath.Join(cfg.Report.OutputDir, "report.html"))
	if err != nil {
		t.Fatalf("html report not written: %v", err)
	}
	if !strings.Contains(string(html), "Match in A.png with confidence 0.45") {
		t.Error("html report missing match")
	}

	pdf, err := os.ReadFile(filepath.Join(cfg.Report.OutputDir, "flagged.pdf"))
	if err != nil {
		t.Fatalf("pdf not written: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Error("flagged.pdf is not a PDF")
	}
	if !f.fake.closed {
		t.Error("extractor should be closed")
	}
}

func TestRunScan_TextFile(t *testing.T) {
	f := setup(t)

	opts := scanDefaults()
	opts.reference = f.reference
	opts.textOut = filepath.Join(f.dir, "report.txt")

	var out bytes.Buffer
	if err := runScan(context.Background(), opts, []string{filepath.Join(f.gallery, "B.jpg")}, &out); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("stdout should be empty when --text is given, got %q", out.String())
	}
	data, err := os.ReadFile(opts.textOut)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "No matching faces found.") {
		t.Errorf("report:\n%s", data)
	}
}

func TestRunScan_Errors(t *testing.T) {
	f := setup(t)
	empty := filepath.Join(f.dir, "empty")
	if err := os.Mkdir(empty, 0755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		modify  func(*scanOptions)
		paths   []string
		loadErr error
		wantErr error
		wantMsg string
	}{
		{
			name:    "no reference",
			modify:  func(o *scanOptions) {},
			paths:   []string{f.gallery},
			wantMsg: "exactly one of",
		},
		{
			name:    "reference and profile",
			modify:  func(o *scanOptions) { o.reference = f.reference; o.profile = "suspect" },
			paths:   []string{f.gallery},
			wantMsg: "exactly one of",
		},
		{
			name:    "empty gallery",
			modify:  func(o *scanOptions) { o.reference = f.reference },
			paths:   []string{empty},
			wantErr: batch.ErrMissingInputs,
		},
		{
			name:    "reference without face",
			modify:  func(o *scanOptions) { o.reference = f.blank },
			paths:   []string{f.gallery},
			wantErr: recognition.ErrNoFaceDetected,
		},
		{
			name:    "models unavailable",
			modify:  func(o *scanOptions) { o.reference = f.reference },
			paths:   []string{f.gallery},
			loadErr: recognition.ErrModelLoad,
			wantErr: recognition.ErrModelLoad,
		},
		{
			name:    "unknown profile",
			modify:  func(o *scanOptions) { o.profile = "nobody" },
			paths:   []string{f.gallery},
			wantMsg: "profile not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.fake.loadErr = tt.loadErr
			opts := scanDefaults()
			tt.modify(&opts)

			var out bytes.Buffer
			err := runScan(context.Background(), opts, tt.paths, &out)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
			if out.Len() != 0 {
				t.Error("no report should be written on failure")
			}
		})
	}
}

func TestRunScan_Cancelled(t *testing.T) {
	f := setup(t)
	opts := scanDefaults()
	opts.reference = f.reference

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := runScan(ctx, opts, []string{f.gallery}, &out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEnrollAndScanProfile(t *testing.T) {
	f := setup(t)
	var out bytes.Buffer

	if err := runEnroll(context.Background(), "suspect", f.reference, &out); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if err := runEnroll(context.Background(), "suspect", filepath.Join(f.gallery, "B.jpg"), &out); err != nil {
		t.Fatalf("second enroll failed: %v", err)
	}
	if !strings.Contains(out.String(), "Added a reference face to 'suspect'") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := runProfilesList(&out); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[2], "suspect") || !strings.Contains(lines[2], " 2 ") {
		t.Errorf("profiles list:\n%s", out.String())
	}

	opts := scanDefaults()
	opts.profile = "suspect"
	out.Reset()
	if err := runScan(context.Background(), opts, []string{f.gallery}, &out); err != nil {
		t.Fatalf("profile scan failed: %v", err)
	}
	// B is one of the profile's faces now, so both A and B match.
	if !strings.Contains(out.String(), "Matching Faces Found: 2") || !strings.Contains(out.String(), "Reference Image: profile suspect") {
		t.Errorf("report:\n%s", out.String())
	}

	out.Reset()
	if err := runProfilesRemove("suspect", &out); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := runProfilesList(&out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No profiles enrolled.") {
		t.Errorf("output = %q", out.String())
	}
	if err := runProfilesRemove("suspect", &out); err == nil {
		t.Error("removing a missing profile should fail")
	}
}

func TestEnroll_Errors(t *testing.T) {
	f := setup(t)
	var out bytes.Buffer

	if err := runEnroll(context.Background(), "../escape", f.reference, &out); err == nil {
		t.Error("expected invalid label error")
	}
	if err := runEnroll(context.Background(), "blank", f.blank, &out); !errors.Is(err, recognition.ErrNoFaceDetected) {
		t.Errorf("expected ErrNoFaceDetected, got %v", err)
	}
	if err := runEnroll(context.Background(), "missing", filepath.Join(f.dir, "nope.jpg"), &out); err == nil {
		t.Error("expected error for missing image")
	}
}

func TestOutputPath(t *testing.T) {
	setup(t)
	cfg.Report.OutputDir = "/cases/17"

	tests := []struct {
		in   string
		want string
	}{
		{"report.txt", "/cases/17/report.txt"},
		{"sub/report.pdf", "/cases/17/sub/report.pdf"},
		{"/tmp/report.html", "/tmp/report.html"},
	}
	for _, tt := range tests {
		if got := outputPath(tt.in); got != tt.want {
			t.Errorf("outputPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunConfig(t *testing.T) {
	setup(t)
	var out bytes.Buffer
	if err := runConfig(&out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "# Source: built-in defaults\n") {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "threshold: 0.6") {
		t.Errorf("output should contain the threshold:\n%s", out.String())
	}
}

func TestDownloadModels_SkipsExisting(t *testing.T) {
	dir := t.TempDir()
	for _, name := range dlib.ModelFiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("model"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()
	orig := modelBaseURL
	modelBaseURL = srv.URL + "/"
	defer func() { modelBaseURL = orig }()

	if err := downloadModels(context.Background(), dir, false); err != nil {
		t.Fatal(err)
	}
	if requests != 0 {
		t.Errorf("expected no downloads, got %d requests", requests)
	}
}

func TestDownloadModels_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	orig := modelBaseURL
	modelBaseURL = srv.URL + "/"
	defer func() { modelBaseURL = orig }()

	dir := t.TempDir()
	err := downloadModels(context.Background(), dir, false)
	if err == nil || !strings.Contains(err.Error(), "bad status") {
		t.Fatalf("expected bad status error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, dlib.ModelFiles[0])); !os.IsNotExist(err) {
		t.Error("failed download must not leave a model file behind")
	}
}

func TestInitConfig_InvalidThresholdFallsBack(t *testing.T) {
	for _, value := range []string{"abc", "1.5", "0"} {
		t.Run(value, func(t *testing.T) {
			f := setup(t)
			t.Setenv("HOME", f.dir)
			t.Setenv(config.EnvDataDir, filepath.Join(f.dir, "data"))
			t.Setenv(config.EnvModelPath, filepath.Join(f.dir, "models"))
			t.Setenv(config.EnvOutputDir, filepath.Join(f.dir, "out"))
			t.Setenv(config.EnvEncryption, "false")
			t.Setenv(config.EnvThreshold, value)

			if err := initConfig(rootCmd, nil); err != nil {
				t.Fatalf("initConfig rejected threshold %q: %v", value, err)
			}

			opts := scanDefaults()
			opts.threshold = cfg.Recognition.Threshold
			opts.reference = f.reference

			var out bytes.Buffer
			if err := runScan(context.Background(), opts, []string{f.gallery}, &out); err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			if !strings.Contains(out.String(), "Detection Threshold: 0.6\n") {
				t.Errorf("expected the default threshold in the report:\n%s", out.String())
			}
		})
	}
}
