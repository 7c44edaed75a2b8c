// Package ooxml reads and writes the subset of WordprocessingML (.docx) the merge
// pipeline needs: paragraphs, run-level formatting (bold, italic, underline, size),
// paragraph styles and hard page breaks.
//
// Known fidelity gaps: tables are flattened to one paragraph per cell paragraph,
// images, drawings, headers, footers, footnotes and numbering are dropped.
package ooxml

import "strings"

// Run is a span of text sharing one set of character properties.
type Run struct {
	Text      string
	Bold      bool
	Italic    bool
	Underline bool
	// Size is the font size in half-points, as stored in w:sz. Zero means inherited.
	Size int
}

// Paragraph is a block of runs. A paragraph with PageBreak set carries no text and
// renders as a hard page break.
type Paragraph struct {
	Style     string
	Runs      []Run
	PageBreak bool
}

// Text returns the concatenated run text.
func (p Paragraph) Text() string {
	var sb strings.Builder
	for _, r := range p.Runs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// Document is an ordered list of paragraphs.
type Document struct {
	Paragraphs []Paragraph
}

// New returns an empty document.
func New() *Document {
	return &Document{}
}

// AddParagraph appends a paragraph made of the given runs and returns it.
func (d *Document) AddParagraph(runs ...Run) *Paragraph {
	d.Paragraphs = append(d.Paragraphs, Paragraph{Runs: runs})
	return &d.Paragraphs[len(d.Paragraphs)-1]
}

// AddText appends a plain paragraph.
func (d *Document) AddText(text string) {
	d.AddParagraph(Run{Text: text})
}

// AddHeading appends a bold paragraph with the given heading level (1 or 2 are the
// useful values) using the built-in heading style.
func (d *Document) AddHeading(text string, level int) {
	size := 32
	if level > 1 {
		size = 26
	}
	p := d.AddParagraph(Run{Text: text, Bold: true, Size: size})
	if level >= 1 && level <= 6 {
		p.Style = "Heading" + string(rune('0'+level))
	}
}

// AddPageBreak appends a hard page break.
func (d *Document) AddPageBreak() {
	d.Paragraphs = append(d.Paragraphs, Paragraph{PageBreak: true})
}

// Append copies the paragraphs of src onto the end of d.
func (d *Document) Append(src *Document) {
	d.Paragraphs = append(d.Paragraphs, src.Paragraphs...)
}

// PlainText returns one line per paragraph, page breaks rendered as form feeds.
func (d *Document) PlainText() []string {
	lines := make([]string, 0, len(d.Paragraphs))
	for _, p := range d.Paragraphs {
		if p.PageBreak {
			lines = append(lines, "\f")
			continue
		}
		lines = append(lines, p.Text())
	}
	return lines
}
