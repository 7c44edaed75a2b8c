package pdftext

import (
	"math"
	"strings"
)

// Options controls Layout.
type Options struct {
	Columns      int
	FontSize     float64
	LineHeight   float64
	Margin       float64
	ParagraphGap float64
}

// DefaultOptions wraps at 90 columns of 10pt text with 40pt margins.
func DefaultOptions() Options {
	return Options{
		Columns:      90,
		FontSize:     10,
		LineHeight:   12,
		Margin:       40,
		ParagraphGap: 6,
	}
}

// Heading is a bold line placed at the top of the first page.
type Heading struct {
	Text string
	Size float64
}

// Layout flows paragraphs onto pages. Long paragraphs wrap at opts.Columns on the
// last space before the limit, or hard at the limit when there is none. A new page
// starts when vertical space runs out or when a paragraph is a form feed ("\f").
func Layout(headings []Heading, paragraphs []string, opts Options) []Page {
	if opts.Columns <= 0 {
		opts = DefaultOptions()
	}

	var pages []Page
	cur := Page{}
	top := PageHeight - opts.Margin
	y := top

	newPage := func() {
		pages = append(pages, cur)
		cur = Page{}
		y = top
	}
	// room makes sure h points fit above the bottom margin. A page that has only
	// received blank space so far is reused from the top.
	room := func(h float64) {
		if y-h >= opts.Margin {
			return
		}
		if len(cur.Lines) > 0 {
			newPage()
			return
		}
		y = top
	}

	for _, h := range headings {
		size := h.Size
		if size <= 0 {
			size = opts.FontSize + 4
		}
		room(size + 4)
		y -= size + 4
		cur.Lines = append(cur.Lines, Line{X: opts.Margin, Y: y, Size: size, Bold: true, Text: h.Text})
	}
	if len(headings) > 0 {
		y -= opts.LineHeight
	}

	for _, para := range paragraphs {
		if para == "\f" {
			if len(cur.Lines) > 0 {
				newPage()
			}
			continue
		}
		if strings.TrimSpace(para) == "" {
			if y-opts.ParagraphGap >= opts.Margin {
				y -= opts.ParagraphGap
			}
			continue
		}
		for _, line := range Wrap(para, opts.Columns) {
			room(opts.LineHeight)
			y -= opts.LineHeight
			cur.Lines = append(cur.Lines, Line{X: opts.Margin, Y: y, Size: opts.FontSize, Text: line})
		}
		y = math.Max(y-opts.ParagraphGap, opts.Margin)
	}

	if len(cur.Lines) > 0 || len(pages) == 0 {
		pages = append(pages, cur)
	}
	return pages
}

// Wrap splits text into lines of at most width runes.
func Wrap(text string, width int) []string {
	var lines []string
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\t", "    "), "\n") {
		rest := []rune(strings.TrimRight(raw, " "))
		if len(rest) == 0 {
			lines = append(lines, "")
			continue
		}
		for len(rest) > width {
			cut := -1
			for i := width; i > 0; i-- {
				if rest[i] == ' ' {
					cut = i
					break
				}
			}
			if cut <= 0 {
				cut = width
			}
			lines = append(lines, string(rest[:cut]))
			rest = []rune(strings.TrimLeft(string(rest[cut:]), " "))
		}
		if len(rest) > 0 {
			lines = append(lines, string(rest))
		}
	}
	return lines
}
