package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrCodeEU/facesweep/pkg/batch"
	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/MrCodeEU/facesweep/pkg/progress"
	"github.com/MrCodeEU/facesweep/pkg/recognition"
	"github.com/MrCodeEU/facesweep/pkg/report"
)

// maxUploadMemory is how much of a multipart upload is kept in memory; the
// rest spills to temporary files.
const maxUploadMemory = 64 << 20

//go:embed static/index.html
var staticFS embed.FS

var indexTemplate = template.Must(template.ParseFS(staticFS, "static/index.html"))

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := map[string]any{"Threshold": s.runner.Threshold()}
	if err := indexTemplate.Execute(w, data); err != nil {
		logging.Component("server").WithError(err).Error("Failed to render index page")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"models_loaded": s.modelsReady(),
	})
}

type statusResponse struct {
	State        string            `json:"state"`
	Ready        bool              `json:"ready"`
	HasReference bool              `json:"has_reference"`
	GalleryCount int               `json:"gallery_count"`
	Threshold    float64           `json:"threshold"`
	ModelsLoaded bool              `json:"models_loaded"`
	Progress     progress.Snapshot `json:"progress"`
	Summary      *batch.Summary    `json:"summary,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:        s.runner.State().String(),
		Ready:        s.runner.CanStart(),
		HasReference: s.runner.HasReference(),
		GalleryCount: len(s.runner.Gallery()),
		Threshold:    s.runner.Threshold(),
		ModelsLoaded: s.modelsReady(),
		Progress:     s.runner.Progress(),
	}
	if run := s.runner.LastRun(); run != nil {
		resp.Summary = &run.Summary
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["reference"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "reference image is required")
		return
	}
	name, data, err := readUpload(files[0])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ensureModels(); err != nil {
		logging.Component("server").WithError(err).Error("Failed to load face models")
		respondError(w, http.StatusServiceUnavailable, "face detection unavailable")
		return
	}

	if err := s.runner.RegisterReference(r.Context(), name, data); err != nil {
		switch {
		case errors.Is(err, recognition.ErrNoFaceDetected):
			respondError(w, http.StatusUnprocessableEntity, "no face detected in the reference image")
		case errors.Is(err, batch.ErrRunInProgress):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"reference": name,
		"ready":     s.runner.CanStart(),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var gallery []batch.Image
	for _, fh := range r.MultipartForm.File["gallery"] {
		name, data, err := readUpload(fh)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		gallery = append(gallery, batch.BytesImage(name, data))
	}

	threshold := s.runner.Threshold()
	if v := strings.TrimSpace(r.FormValue("threshold")); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			// Corrected to the default with a warning.
			t = math.NaN()
		}
		threshold = t
	}

	if s.runner.HasReference() && len(gallery) > 0 {
		if err := s.ensureModels(); err != nil {
			respondError(w, http.StatusServiceUnavailable, "face detection unavailable")
			return
		}
	}

	run, err := s.runner.StartWith(r.Context(), gallery, threshold)
	if err != nil && run == nil {
		switch {
		case errors.Is(err, batch.ErrMissingInputs):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, batch.ErrRunInProgress):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if err != nil {
		logging.Component("server").WithError(err).Warn("Scan interrupted")
	}

	rep := report.FromRun(run, report.Case{
		Number:  r.FormValue("case_number"),
		Name:    r.FormValue("case_name"),
		Details: r.FormValue("case_details"),
	})

	s.mu.Lock()
	s.run = run
	s.report = &rep
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := report.WriteHTML(&buf, rep); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Reset(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	s.mu.Lock()
	s.run = nil
	s.report = nil
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, map[string]string{"state": s.runner.State().String()})
}

func (s *Server) handleReportText(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rep := s.report
	s.mu.Unlock()

	if rep == nil {
		respondError(w, http.StatusNotFound, "no report available")
		return
	}

	var buf bytes.Buffer
	if err := report.WriteText(&buf, *rep); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	attachment(w, "text/plain; charset=utf-8", report.TextFilename)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run == nil {
		respondError(w, http.StatusNotFound, "no report available")
		return
	}

	flagged, err := report.CollectFlagged(run.Results, run.Gallery)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var buf bytes.Buffer
	err = report.WritePDF(&buf, flagged, report.PDFOptions{TileSize: s.opts.TileSize, Title: "Flagged Images"})
	if errors.Is(err, report.ErrNoFlaggedImages) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	attachment(w, "application/pdf", report.PDFFilename)
	_, _ = w.Write(buf.Bytes())
}

func attachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

func readUpload(fh *multipart.FileHeader) (string, []byte, error) {
	f, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open file: %s", fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read file: %s", fh.Filename)
	}
	return filepath.Base(fh.Filename), data, nil
}
