package parser

import (
	"strings"

	"golang.org/x/net/html"
)

// CleanText normalises a cell exported by Anki. Runs of whitespace collapse
// to one space, <br> becomes a newline, other markup is dropped and entities
// are decoded.
func CleanText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			out := strings.ReplaceAll(b.String(), "\u00a0", " ")
			return strings.TrimSpace(out)
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				b.WriteByte('\n')
			}
		}
	}
}
