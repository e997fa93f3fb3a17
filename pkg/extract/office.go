package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"unicode"
)

// officeParts are path.Match patterns for the zip members that carry text,
// covering OOXML and ODF.
var officeParts = []string{
	"word/document.xml",
	"xl/sharedStrings.xml",
	"xl/worksheets/sheet*.xml",
	"ppt/slides/slide*.xml",
	"content.xml",
}

// OfficeText extracts text from zip-based office documents (docx, xlsx,
// pptx, odt, ods, odp). Legacy binary formats yield "".
func OfficeText(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		if bytes.HasPrefix(content, []byte("PK")) {
			return "", fmt.Errorf("opening office document as zip: %w", err)
		}
		return "", nil
	}

	files := append([]*zip.File(nil), zr.File...)
	sort.SliceStable(files, func(i, j int) bool { return naturalLess(files[i].Name, files[j].Name) })

	var parts []string
	for _, f := range files {
		if !isTextPart(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		if text := xmlText(data); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func isTextPart(name string) bool {
	for _, pattern := range officeParts {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// naturalLess orders slide2.xml before slide10.xml.
func naturalLess(a, b string) bool {
	da, db := path.Dir(a), path.Dir(b)
	if da != db || len(a) == len(b) {
		return a < b
	}
	return len(a) < len(b)
}

// xmlText collects the character data of an XML document.
func xmlText(data []byte) string {
	var text strings.Builder
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		if cd, ok := token.(xml.CharData); ok {
			content := string(cd)
			if strings.TrimSpace(content) != "" {
				if text.Len() > 0 {
					text.WriteString(" ")
				}
				text.WriteString(cleanText(content))
			}
		}
	}

	return text.String()
}

// cleanText collapses whitespace and drops non-printable characters.
func cleanText(s string) string {
	var result strings.Builder
	lastSpace := false

	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				result.WriteRune(' ')
				lastSpace = true
			}
		} else if unicode.IsPrint(r) {
			result.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimSpace(result.String())
}
