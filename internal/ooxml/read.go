package ooxml

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const documentPart = "word/document.xml"

// Read parses a .docx file by reading word/document.xml from the ZIP archive.
func Read(path string) (*Document, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == documentPart {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("%s not found in archive", documentPart)
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	return decode(rc)
}

func decode(r io.Reader) (*Document, error) {
	decoder := xml.NewDecoder(r)
	doc := New()

	var (
		para         *Paragraph
		run          *Run
		inRunProps   bool
		inText       bool
		sawDocument  bool
		splitByBreak bool
	)

	flushRun := func() {
		if para != nil && run != nil && run.Text != "" {
			para.Runs = append(para.Runs, *run)
		}
		run = nil
	}

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "document":
				sawDocument = true
			case "p":
				para = &Paragraph{}
				splitByBreak = false
			case "pStyle":
				if para != nil {
					para.Style = attr(t, "val")
				}
			case "r":
				if para != nil {
					run = &Run{}
				}
			case "rPr":
				inRunProps = run != nil
			case "b":
				if inRunProps {
					run.Bold = toggle(t)
				}
			case "i":
				if inRunProps {
					run.Italic = toggle(t)
				}
			case "u":
				if inRunProps {
					v := attr(t, "val")
					run.Underline = v != "none" && v != "0" && v != "false"
				}
			case "sz":
				if inRunProps {
					if n, err := strconv.Atoi(attr(t, "val")); err == nil {
						run.Size = n
					}
				}
			case "t":
				inText = run != nil
			case "tab":
				if run != nil && !inRunProps {
					run.Text += "\t"
				}
			case "br", "cr":
				if run == nil || inRunProps {
					continue
				}
				if attr(t, "type") == "page" {
					// A page break inside a paragraph ends the text before it.
					props := *run
					props.Text = ""
					flushRun()
					if len(para.Runs) > 0 {
						doc.Paragraphs = append(doc.Paragraphs, *para)
						para = &Paragraph{Style: para.Style}
					}
					doc.AddPageBreak()
					splitByBreak = true
					run = &props
				} else {
					run.Text += "\n"
				}
			}

		case xml.CharData:
			if inText && run != nil {
				run.Text += string(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "rPr":
				inRunProps = false
			case "t":
				inText = false
			case "r":
				flushRun()
			case "p":
				flushRun()
				if para != nil && !(splitByBreak && len(para.Runs) == 0) {
					doc.Paragraphs = append(doc.Paragraphs, *para)
				}
				para = nil
			}
		}
	}

	if !sawDocument {
		return nil, fmt.Errorf("document.xml has no w:document root")
	}
	return doc, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// toggle interprets an on/off property such as <w:b/> or <w:b w:val="0"/>.
func toggle(el xml.StartElement) bool {
	switch attr(el, "val") {
	case "0", "false", "off":
		return false
	}
	return true
}
