package report

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/MrCodeEU/facesweep/pkg/batch"
	"github.com/MrCodeEU/facesweep/pkg/logging"
	"github.com/MrCodeEU/facesweep/pkg/recognition"
	"github.com/go-pdf/fpdf"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// PDFFilename is the suggested name for the flagged images download.
const PDFFilename = "FlaggedImages.pdf"

// ErrNoFlaggedImages is returned when there is nothing to export.
var ErrNoFlaggedImages = errors.New("no flagged images to export")

const (
	// DefaultTileSize is the edge of one image tile in millimetres.
	DefaultTileSize = 80.0

	pageMargin  = 10.0
	tilePixels  = 640
	jpegQuality = 90
)

// Flagged is a matched gallery image ready for export.
type Flagged struct {
	Name string
	Data []byte
	Box  *recognition.Rectangle
}

// PDFOptions configures the flagged images document.
type PDFOptions struct {
	TileSize float64
	Title    string
}

// CollectFlagged reads the matched images of results back from the gallery
// the run was started with.
func CollectFlagged(results []batch.ImageResult, gallery []batch.Image) ([]Flagged, error) {
	var flagged []Flagged
	for _, res := range results {
		if res.Class != batch.Matched {
			continue
		}
		if res.Index < 0 || res.Index >= len(gallery) {
			return nil, fmt.Errorf("result %s refers to missing gallery image %d", res.Name, res.Index)
		}
		data, err := gallery[res.Index].Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", res.Name, err)
		}
		flagged = append(flagged, Flagged{Name: res.Name, Data: data, Box: res.Box})
	}
	return flagged, nil
}

// WritePDF lays the flagged images out one tile per row on A4 pages.
// Images that cannot be decoded are skipped.
func WritePDF(w io.Writer, images []Flagged, opts PDFOptions) error {
	pdf, err := buildPDF(images, opts)
	if err != nil {
		return err
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

func buildPDF(images []Flagged, opts PDFOptions) (*fpdf.Fpdf, error) {
	if len(images) == 0 {
		return nil, ErrNoFlaggedImages
	}
	tile := opts.TileSize
	if tile <= 0 {
		tile = DefaultTileSize
	}
	log := logging.Component("report")

	pdf := fpdf.New("P", "mm", "A4", "")
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, true)
	}
	pdf.SetFont("Helvetica", "", 9)
	_, pageHeight := pdf.GetPageSize()

	placed := 0
	y := pageMargin
	for i, img := range images {
		data, err := renderTile(img)
		if err != nil {
			log.WithError(err).Warnf("Skipping %s in PDF export", img.Name)
			continue
		}

		if placed == 0 {
			pdf.AddPage()
		} else if y+tile > pageHeight {
			pdf.AddPage()
			y = pageMargin
		}

		name := fmt.Sprintf("flagged-%d", i)
		imgOpts := fpdf.ImageOptions{ImageType: "JPG"}
		pdf.RegisterImageOptionsReader(name, imgOpts, bytes.NewReader(data))
		pdf.ImageOptions(name, pageMargin, y, tile, tile, false, imgOpts, 0, "")
		pdf.Text(pageMargin, y+tile+4, img.Name)

		y += tile + pageMargin
		placed++
	}

	if placed == 0 {
		return nil, ErrNoFlaggedImages
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to build pdf: %w", err)
	}
	return pdf, nil
}

// renderTile decodes the image, outlines the matching face and scales it
// into a square JPEG tile.
func renderTile(f Flagged) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.Name, err)
	}

	b := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, b.Min, draw.Src)
	if f.Box != nil {
		stroke := max(2, b.Dx()/200)
		outline(canvas, image.Rect(f.Box.X, f.Box.Y, f.Box.X+f.Box.Width, f.Box.Y+f.Box.Height), stroke, color.RGBA{R: 255, A: 255})
	}

	dst := image.NewRGBA(image.Rect(0, 0, tilePixels, tilePixels))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, fit(canvas.Bounds(), tilePixels), canvas, canvas.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", f.Name, err)
	}
	return buf.Bytes(), nil
}

// fit returns the largest rectangle with the aspect ratio of r centred in a
// size x size square.
func fit(r image.Rectangle, size int) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return image.Rect(0, 0, size, size)
	}
	if w >= h {
		sh := h * size / w
		top := (size - sh) / 2
		return image.Rect(0, top, size, top+sh)
	}
	sw := w * size / h
	left := (size - sw) / 2
	return image.Rect(left, 0, left+sw, size)
}

func outline(img *image.RGBA, r image.Rectangle, stroke int, c color.Color) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke),
		image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y),
		image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(r), u, image.Point{}, draw.Src)
	}
}
