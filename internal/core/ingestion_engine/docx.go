package ingestion_engine

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"code.sajari.com/docconv"
	"github.com/nguyenthenguyen/docx"

	"github.com/markdave123-py/knosi/internal/core"
)

const wordNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// extractDocx joins the non-blank paragraphs of the main document part with blank lines.
func extractDocx(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", core.ValidationError("could not read docx: %v", err)
	}
	defer r.Close()

	paragraphs, err := wordParagraphs(r.Editable().GetContent())
	if err != nil {
		return "", core.ValidationError("could not parse docx body: %v", err)
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

// wordParagraphs collects the text runs of every w:p element.
func wordParagraphs(body string) ([]string, error) {
	dec := xml.NewDecoder(strings.NewReader(body))
	var (
		out    []string
		open   []*strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNamespace {
				continue
			}
			switch t.Name.Local {
			case "p":
				open = append(open, &strings.Builder{})
			case "t":
				inText = true
			}
		case xml.EndElement:
			if t.Name.Space != wordNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if len(open) == 0 {
					continue
				}
				text := open[len(open)-1].String()
				open = open[:len(open)-1]
				if strings.TrimSpace(text) != "" {
					out = append(out, text)
				}
			}
		case xml.CharData:
			if inText && len(open) > 0 {
				open[len(open)-1].Write(t)
			}
		}
	}
}

// extractODT reads content.xml through docconv, which breaks lines at each paragraph, and joins
// the non-blank lines the same way extractDocx does.
func extractODT(data []byte) (string, error) {
	text, _, err := docconv.ConvertODT(bytes.NewReader(data))
	if err != nil {
		return "", core.ValidationError("could not read odt: %v", err)
	}
	var paragraphs []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			paragraphs = append(paragraphs, line)
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}
