package extract

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

var (
	newlinesRe = regexp.MustCompile(`\n+`)
	blanksRe   = regexp.MustCompile(`[ \t\r\f\v]+`)

	safePolicy = bluemonday.UGCPolicy()
)

// HTMLText returns the visible text of an HTML document. The encoding is
// sniffed from BOMs and meta tags; script and style content is dropped.
func HTMLText(data []byte) string {
	r, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		r = bytes.NewReader(data)
	}
	return htmlText(r)
}

// HTMLTextString is HTMLText for already-decoded markup.
func HTMLTextString(s string) string {
	return htmlText(strings.NewReader(s))
}

func htmlText(r io.Reader) string {
	doc, err := html.Parse(r)
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.TrimSpace(b.String())
	text = newlinesRe.ReplaceAllString(text, "\n")
	return blanksRe.ReplaceAllString(text, " ")
}

// SafeHTML strips scripts, event handlers and other active content,
// keeping the markup readable.
func SafeHTML(data []byte) string {
	decoded := data
	if r, err := charset.NewReader(bytes.NewReader(data), "text/html"); err == nil {
		if b, err := io.ReadAll(r); err == nil {
			decoded = b
		}
	}
	return safePolicy.Sanitize(string(decoded))
}
