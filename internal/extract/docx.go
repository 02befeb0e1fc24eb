package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultPart  = "word/document.xml"
	contentTypesPart = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// <w:t>text</w:t>, with or without attributes.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// Override elements naming the main document part, in either attribute order.
	mainPartRe = []*regexp.Regexp{
		regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"`),
		regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"[^>]+PartName="([^"]+)"`),
	}
)

// extractDOCX joins every <w:t> run of the main document part. The part is
// located through [Content_Types].xml and defaults to word/document.xml.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	part := docxDefaultPart
	if types, err := readZipPart(zr, contentTypesPart); err == nil {
		for _, re := range mainPartRe {
			if m := re.FindSubmatch(types); len(m) > 1 {
				part = strings.TrimPrefix(string(m[1]), "/")
				break
			}
		}
	}

	doc, err := readZipPart(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	runs := wtTag.FindAllSubmatch(doc, -1)
	words := make([]string, 0, len(runs))
	for _, r := range runs {
		if s := strings.TrimSpace(string(r[1])); s != "" {
			words = append(words, s)
		}
	}
	return strings.Join(words, " "), nil
}

func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}
