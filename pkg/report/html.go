package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/report.html
var templateFS embed.FS

var htmlTemplate = template.Must(template.New("report.html").ParseFS(templateFS, "templates/report.html"))

// WriteHTML renders the report as a standalone HTML fragment.
func WriteHTML(w io.Writer, r Report) error {
	if err := htmlTemplate.Execute(w, r); err != nil {
		return fmt.Errorf("failed to execute report template: %w", err)
	}
	return nil
}
