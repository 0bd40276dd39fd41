package ingest

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const previewMaxLen = 200

// \s alone misses U+00A0, which stripped &nbsp; entities become.
var whitespaceRe = regexp.MustCompile(`[\s\x{00A0}]+`)

// BuildPreview produces the short list-view snippet for a message.
// Plain text wins when present; otherwise the HTML body is stripped to
// its visible text. Whitespace runs collapse to single spaces and
// anything past 200 characters is cut with an ellipsis.
func BuildPreview(bodyText, bodyHTML string) string {
	source := bodyText
	if strings.TrimSpace(source) == "" && bodyHTML != "" {
		source = stripHTML(bodyHTML)
	}

	source = whitespaceRe.ReplaceAllString(strings.TrimSpace(source), " ")
	if source == "" {
		return ""
	}

	runes := []rune(source)
	if len(runes) <= previewMaxLen {
		return source
	}
	return string(runes[:previewMaxLen]) + "..."
}

func stripHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}
