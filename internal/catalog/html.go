package catalog

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// markupTag spots the formatting tags catalog descriptions use.
var markupTag = regexp.MustCompile(`(?i)<(p|br|div|span|b|i|strong|em|a|ul|ol|li|h[1-6]|blockquote)[\s>/]`)

// htmlToMarkdown renders an HTML description as Markdown. Plain text, and
// markup the converter rejects, come back trimmed but otherwise untouched.
func htmlToMarkdown(s string) string {
	out := s
	if markupTag.MatchString(s) {
		if md, err := htmltomarkdown.ConvertString(s); err == nil {
			out = md
		}
	}
	return strings.TrimSpace(out)
}

// plainText strips tags and entities from short fields such as titles and
// author names, collapsing whitespace.
func plainText(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return collapseWhitespace(s)
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return collapseWhitespace(html.UnescapeString(s))
	}

	var text strings.Builder
	for n := range doc.Descendants() {
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
		}
	}
	return collapseWhitespace(text.String())
}

var runsOfSpace = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(runsOfSpace.ReplaceAllString(s, " "))
}
