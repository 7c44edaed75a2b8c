// Package pdftext lays plain text out on US Letter pages and writes the result
// through pdfcpu's JSON page description, using the standard Helvetica fonts. It
// backs the last two rendition tiers, which must succeed without a converter.
package pdftext

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// US Letter in points.
const (
	PageWidth  = 612.0
	PageHeight = 792.0
)

// Line is one positioned line of text. Y is measured from the bottom of the page.
type Line struct {
	X, Y float64
	Size float64
	Bold bool
	Text string
}

// Page is a list of positioned lines.
type Page struct {
	Lines []Line
}

// Document is what Render writes. Creator ends up in the info dictionary next to
// the Title.
type Document struct {
	Title   string
	Creator string
	Pages   []Page
}

type pageSpec struct {
	Paper  string               `json:"paper"`
	Origin string               `json:"origin"`
	Pages  map[string]pageEntry `json:"pages"`
}

type pageEntry struct {
	Content pageContent `json:"content"`
}

type pageContent struct {
	Text []textBox `json:"text,omitempty"`
}

type textBox struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Font  textFont   `json:"font"`
}

type textFont struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// WriteFile renders doc to path through a temporary sibling and a rename.
func WriteFile(path string, doc Document) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Render(tmp, doc); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	return os.Rename(tmpName, path)
}

// Render writes doc as a PDF to w. A document without pages gets one blank page.
func Render(w io.Writer, doc Document) error {
	spec, err := json.Marshal(describe(doc))
	if err != nil {
		return fmt.Errorf("failed to encode page description: %w", err)
	}

	var created bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(spec), &created, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("failed to create pdf: %w", err)
	}

	props := map[string]string{}
	if doc.Title != "" {
		props["Title"] = doc.Title
	}
	if doc.Creator != "" {
		props["Creator"] = doc.Creator
	}
	if len(props) == 0 {
		if _, err := w.Write(created.Bytes()); err != nil {
			return fmt.Errorf("failed to write pdf: %w", err)
		}
		return nil
	}
	if err := api.AddProperties(bytes.NewReader(created.Bytes()), w, props, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("failed to set document properties: %w", err)
	}
	return nil
}

func describe(doc Document) pageSpec {
	pages := doc.Pages
	if len(pages) == 0 {
		pages = []Page{{}}
	}
	spec := pageSpec{Paper: "Letter", Origin: "LowerLeft", Pages: make(map[string]pageEntry, len(pages))}
	for i, p := range pages {
		var content pageContent
		for _, l := range p.Lines {
			text := clean(l.Text)
			if strings.TrimSpace(text) == "" {
				continue
			}
			font := "Helvetica"
			if l.Bold {
				font = "Helvetica-Bold"
			}
			size := int(math.Round(l.Size))
			if size <= 0 {
				size = 10
			}
			content.Text = append(content.Text, textBox{
				Value: text,
				Pos:   [2]float64{l.X, l.Y},
				Font:  textFont{Name: font, Size: size},
			})
		}
		spec.Pages[strconv.Itoa(i+1)] = pageEntry{Content: content}
	}
	return spec
}

// clean drops control characters and protects '%' from pdfcpu's %p/%P/%t/%v
// placeholders. A literal '%' directly before one of those letters cannot be
// expressed, so it is followed by a space.
func clean(s string) string {
	var b strings.Builder
	rs := []rune(strings.ReplaceAll(s, "\t", "    "))
	for i, r := range rs {
		switch {
		case r < 0x20 || r == 0x7f:
			continue
		case r == '%':
			b.WriteString("%%")
			if i+1 < len(rs) && strings.ContainsRune("pPtv", rs[i+1]) {
				b.WriteByte(' ')
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
