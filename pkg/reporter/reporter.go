// Package reporter renders an end-of-crawl summary in several formats.
package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/ruvinda/webharvest/internal/models"
)

// Summary is everything the report formats render.
type Summary struct {
	Seeds       []string     `json:"seeds"`
	GeneratedAt time.Time    `json:"generated_at"`
	Stats       models.Stats `json:"stats"`
	RecordsPath string       `json:"records_path"`
	ImagesDir   string       `json:"images_dir"`
}

// Reporter renders crawl summaries.
type Reporter struct{}

// New creates a new Reporter instance.
func New() *Reporter {
	return &Reporter{}
}

// Render produces the summary in the requested format: "text", "json", or
// "markdown".
func (r *Reporter) Render(summary Summary, format string) (string, error) {
	switch format {
	case "json":
		return r.renderJSON(summary)
	case "markdown":
		return r.renderMarkdown(summary)
	case "text":
		return r.renderText(summary)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func (r *Reporter) renderJSON(summary Summary) (string, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}
	return string(data), nil
}

var textTmpl = template.Must(template.New("summary").Parse(`Crawl summary ({{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}})
{{range .Seeds}}  seed: {{.}}
{{end}}
  pages fetched:     {{.Stats.PagesFetched}}
  pages denied:      {{.Stats.PagesDenied}}
  pages skipped:     {{.Stats.PagesSkipped}}
  pages failed:      {{.Stats.PagesFailed}}
  retries exhausted: {{.Stats.RetriesExhausted}}
  images downloaded: {{.Stats.ImagesDownloaded}}
  images failed:     {{.Stats.ImagesFailed}}
  duration:          {{.Stats.Duration}}

  records: {{.RecordsPath}}
  images:  {{.ImagesDir}}
`))

func (r *Reporter) renderText(summary Summary) (string, error) {
	var buf bytes.Buffer
	if err := textTmpl.Execute(&buf, summary); err != nil {
		return "", fmt.Errorf("failed to render summary: %w", err)
	}
	return buf.String(), nil
}

func (r *Reporter) renderMarkdown(summary Summary) (string, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Crawl Summary\n\n")
	fmt.Fprintf(&buf, "*Generated on %s*\n\n", summary.GeneratedAt.Format("January 2, 2006 15:04 MST"))

	fmt.Fprintf(&buf, "## Seeds\n\n")
	for _, seed := range summary.Seeds {
		fmt.Fprintf(&buf, "- %s\n", seed)
	}
	fmt.Fprintf(&buf, "\n")

	fmt.Fprintf(&buf, "## Results\n\n")
	fmt.Fprintf(&buf, "| Metric | Count |\n")
	fmt.Fprintf(&buf, "|--------|-------|\n")
	fmt.Fprintf(&buf, "| Pages fetched | %d |\n", summary.Stats.PagesFetched)
	fmt.Fprintf(&buf, "| Pages denied by robots | %d |\n", summary.Stats.PagesDenied)
	fmt.Fprintf(&buf, "| Pages skipped (non-HTML) | %d |\n", summary.Stats.PagesSkipped)
	fmt.Fprintf(&buf, "| Pages failed | %d |\n", summary.Stats.PagesFailed)
	fmt.Fprintf(&buf, "| Retries exhausted | %d |\n", summary.Stats.RetriesExhausted)
	fmt.Fprintf(&buf, "| Images downloaded | %d |\n", summary.Stats.ImagesDownloaded)
	fmt.Fprintf(&buf, "| Images failed | %d |\n", summary.Stats.ImagesFailed)
	fmt.Fprintf(&buf, "\nDuration: %s\n\n", summary.Stats.Duration)

	fmt.Fprintf(&buf, "## Output\n\n")
	fmt.Fprintf(&buf, "- Records: `%s`\n", summary.RecordsPath)
	fmt.Fprintf(&buf, "- Images: `%s`\n", summary.ImagesDir)

	return buf.String(), nil
}
