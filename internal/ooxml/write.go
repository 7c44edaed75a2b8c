package ooxml

import (
	"archive/zip"
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`</Types>`

const packageRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`</Relationships>`

const documentOpen = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

// Letter portrait, one inch margins.
const documentClose = `<w:sectPr><w:pgSz w:w="12240" w:h="15840"/>` +
	`<w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440" w:header="720" w:footer="720" w:gutter="0"/>` +
	`</w:sectPr></w:body></w:document>`

// Write saves doc as a .docx at path. The file is written to a temporary sibling
// and renamed into place so a failed save never leaves a truncated document.
func Write(path string, doc *Document) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Encode(tmp, doc); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move document into place: %w", err)
	}
	return nil
}

// Encode writes doc as a .docx package to w.
func Encode(w io.Writer, doc *Document) error {
	zw := zip.NewWriter(w)

	parts := []struct {
		name string
		body func(io.Writer) error
	}{
		{"[Content_Types].xml", writeString(contentTypesXML)},
		{"_rels/.rels", writeString(packageRelsXML)},
		{documentPart, func(w io.Writer) error { return writeBody(w, doc) }},
	}
	for _, part := range parts {
		fw, err := zw.Create(part.name)
		if err != nil {
			return fmt.Errorf("create %s: %w", part.name, err)
		}
		if err := part.body(fw); err != nil {
			return fmt.Errorf("write %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize docx: %w", err)
	}
	return nil
}

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func writeBody(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(documentOpen)
	for _, p := range doc.Paragraphs {
		writeParagraph(bw, p)
	}
	bw.WriteString(documentClose)
	return bw.Flush()
}

func writeParagraph(bw *bufio.Writer, p Paragraph) {
	if p.PageBreak {
		bw.WriteString(`<w:p><w:r><w:br w:type="page"/></w:r></w:p>`)
		return
	}
	bw.WriteString("<w:p>")
	if p.Style != "" {
		bw.WriteString(`<w:pPr><w:pStyle w:val="`)
		xml.EscapeText(bw, []byte(p.Style))
		bw.WriteString(`"/></w:pPr>`)
	}
	for _, r := range p.Runs {
		writeRun(bw, r)
	}
	bw.WriteString("</w:p>")
}

func writeRun(bw *bufio.Writer, r Run) {
	bw.WriteString("<w:r>")
	if r.Bold || r.Italic || r.Underline || r.Size > 0 {
		bw.WriteString("<w:rPr>")
		if r.Bold {
			bw.WriteString("<w:b/>")
		}
		if r.Italic {
			bw.WriteString("<w:i/>")
		}
		if r.Underline {
			bw.WriteString(`<w:u w:val="single"/>`)
		}
		if r.Size > 0 {
			bw.WriteString(`<w:sz w:val="` + strconv.Itoa(r.Size) + `"/>`)
		}
		bw.WriteString("</w:rPr>")
	}

	// Tabs and line breaks are elements in WordprocessingML, not characters.
	lines := strings.Split(r.Text, "\n")
	for i, line := range lines {
		if i > 0 {
			bw.WriteString("<w:br/>")
		}
		for j, chunk := range strings.Split(line, "\t") {
			if j > 0 {
				bw.WriteString("<w:tab/>")
			}
			if chunk == "" {
				continue
			}
			bw.WriteString(`<w:t xml:space="preserve">`)
			xml.EscapeText(bw, []byte(chunk))
			bw.WriteString("</w:t>")
		}
	}
	bw.WriteString("</w:r>")
}
