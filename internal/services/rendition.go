package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/archivemergeflow/internal/models"
	"github.com/Lllllllleong/archivemergeflow/internal/ooxml"
	"github.com/Lllllllleong/archivemergeflow/internal/pdftext"
)

const producer = "archivemergeflow"

// Rendition describes the PDF written for a composite document.
type Rendition struct {
	Path  string
	Tier  models.RenditionTier
	Pages int
	// Attempts holds the reason every higher tier was passed over.
	Attempts []string
}

// Renderer converts the composite document to PDF through a chain of fallbacks:
// the external converter, a library renderer, a plain text layout and finally a
// placeholder page.
type Renderer struct {
	converter *Converter
	timeout   time.Duration
	library   bool
	textOpts  pdftext.Options
	logger    *slog.Logger
}

// NewRenderer returns a renderer. A nil converter skips the external tier and
// library=false skips the library tier.
func NewRenderer(converter *Converter, timeout time.Duration, library bool, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		converter: converter,
		timeout:   timeout,
		library:   library,
		textOpts:  pdftext.DefaultOptions(),
		logger:    logger,
	}
}

// Render writes dest and reports which tier produced it. It fails only when not even
// the placeholder page can be written.
func (r *Renderer) Render(ctx context.Context, compositePath, dest string) (Rendition, error) {
	var attempts []string
	fail := func(tier models.RenditionTier, err error) {
		r.logger.Warn("Rendition tier failed, falling back.", "tier", tier, "error", err)
		attempts = append(attempts, fmt.Sprintf("%s: %v", tier, err))
		os.Remove(dest)
	}

	if r.converter != nil {
		err := r.converter.Convert(ctx, compositePath, "pdf", dest, r.timeout)
		if err == nil {
			var pages int
			if pages, err = inspectPDF(dest); err == nil {
				return Rendition{Path: dest, Tier: models.TierExternal, Pages: pages}, nil
			}
		}
		fail(models.TierExternal, err)
	}

	doc, readErr := ooxml.Read(compositePath)

	if r.library {
		err := readErr
		if err == nil {
			err = renderLibrary(doc, dest)
		}
		if err == nil {
			var pages int
			if pages, err = inspectPDF(dest); err == nil {
				return Rendition{Path: dest, Tier: models.TierLibrary, Pages: pages, Attempts: attempts}, nil
			}
		}
		fail(models.TierLibrary, err)
	}

	err := readErr
	if err == nil {
		var pages int
		if pages, err = r.renderText(doc, dest); err == nil {
			return Rendition{Path: dest, Tier: models.TierText, Pages: pages, Attempts: attempts}, nil
		}
	}
	fail(models.TierText, err)

	if err := renderPlaceholder(dest, attempts, r.textOpts); err != nil {
		return Rendition{Tier: models.TierPlaceholder, Attempts: attempts}, fmt.Errorf("%w: %w", ErrRenditionWriteFailed, err)
	}
	return Rendition{Path: dest, Tier: models.TierPlaceholder, Pages: 1, Attempts: attempts}, nil
}

// inspectPDF validates a PDF in relaxed mode and returns its page count.
func inspectPDF(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, fmt.Errorf("invalid pdf: %w", err)
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}

// renderLibrary lays out the runs of every paragraph with their formatting. Page
// breaks start a new page; everything else about the original layout is lost.
func renderLibrary(doc *ooxml.Document, dest string) error {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetTitle("Merged documents", true)
	pdf.SetCreator(producer, true)
	pdf.SetMargins(54, 54, 54)
	pdf.SetAutoPageBreak(true, 54)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(110, 110, 110)
	pdf.Write(10, tr("Rendered without an office suite; layout is approximate."))
	pdf.Ln(18)
	pdf.SetTextColor(0, 0, 0)

	for _, p := range doc.Paragraphs {
		if p.PageBreak {
			pdf.AddPage()
			continue
		}
		lineH := 11 * 1.3
		for _, run := range p.Runs {
			if h := runSize(run) * 1.3; h > lineH {
				lineH = h
			}
		}
		for _, run := range p.Runs {
			pdf.SetFont("Helvetica", runStyle(run), runSize(run))
			pdf.Write(lineH, tr(strings.ReplaceAll(run.Text, "\t", "    ")))
		}
		pdf.Ln(lineH)
		if pdf.Err() {
			break
		}
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("library renderer: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".fpdf.tmp")
	defer os.Remove(tmp)
	if err := pdf.OutputFileAndClose(tmp); err != nil {
		return fmt.Errorf("library renderer: %w", err)
	}
	return os.Rename(tmp, dest)
}

func runStyle(run ooxml.Run) string {
	var style string
	if run.Bold {
		style += "B"
	}
	if run.Italic {
		style += "I"
	}
	if run.Underline {
		style += "U"
	}
	return style
}

func runSize(run ooxml.Run) float64 {
	if run.Size <= 0 {
		return 11
	}
	return float64(run.Size) / 2
}

func (r *Renderer) renderText(doc *ooxml.Document, dest string) (int, error) {
	headings := []pdftext.Heading{
		{Text: "Text-only rendition", Size: 14},
		{Text: "Formatting, tables and images are not reproduced. Use the merged .docx for the full content.", Size: 9},
	}
	pages := pdftext.Layout(headings, doc.PlainText(), r.textOpts)
	if err := pdftext.WriteFile(dest, pdftext.Document{Title: "Merged documents", Creator: producer, Pages: pages}); err != nil {
		return 0, err
	}
	return len(pages), nil
}

func renderPlaceholder(dest string, attempts []string, opts pdftext.Options) error {
	headings := []pdftext.Heading{{Text: "Rendition unavailable", Size: 18}}
	paragraphs := []string{
		"PDF conversion was unavailable for this run.",
		"Use the merged .docx document instead.",
		"",
	}
	for _, a := range attempts {
		paragraphs = append(paragraphs, "- "+a)
	}
	pages := pdftext.Layout(headings, paragraphs, opts)
	return pdftext.WriteFile(dest, pdftext.Document{
		Title:   "Rendition unavailable",
		Creator: producer,
		Pages:   pages[:1],
	})
}
