package markup

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func markdownToHTML(src []byte) ([]byte, error) {
	if !utf8.Valid(src) {
		return nil, errNotText
	}
	var body bytes.Buffer
	if err := markdown.Convert(src, &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return wrapDocument(body.String()), nil
}

func textToHTML(src []byte) ([]byte, error) {
	if !utf8.Valid(src) {
		return nil, errNotText
	}
	return wrapDocument("<pre>" + html.EscapeString(string(src)) + "</pre>\n"), nil
}

func wrapDocument(body string) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Blockquote: true, atom.Pre: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true, atom.Hr: true,
}

var skippedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Head: true, atom.Noscript: true, atom.Template: true,
}

// htmlToText keeps the visible text of a document, one block per line.
func htmlToText(src []byte) ([]byte, error) {
	if !utf8.Valid(src) {
		return nil, errNotText
	}
	z := nethtml.NewTokenizer(bytes.NewReader(src))
	var (
		out  strings.Builder
		line strings.Builder
		skip int
		pre  int
	)
	flush := func() {
		text := strings.TrimSpace(line.String())
		line.Reset()
		if text == "" {
			return
		}
		out.WriteString(text)
		out.WriteByte('\n')
	}

	for {
		tt := z.Next()
		switch tt {
		case nethtml.ErrorToken:
			flush()
			return []byte(out.String()), nil
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skippedElements[a] && tt == nethtml.StartTagToken {
				skip++
				continue
			}
			if a == atom.Pre && tt == nethtml.StartTagToken {
				pre++
			}
			if blockElements[a] {
				flush()
			}
		case nethtml.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skippedElements[a] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if a == atom.Pre && pre > 0 {
				pre--
			}
			if blockElements[a] {
				flush()
			}
		case nethtml.TextToken:
			if skip > 0 {
				continue
			}
			text := string(z.Text())
			if pre > 0 {
				for i, part := range strings.Split(text, "\n") {
					if i > 0 {
						flush()
					}
					line.WriteString(part)
				}
				continue
			}
			if fields := strings.Fields(text); len(fields) > 0 {
				if line.Len() > 0 && startsWithSpace(text) && !strings.HasSuffix(line.String(), " ") {
					line.WriteByte(' ')
				}
				line.WriteString(strings.Join(fields, " "))
				if endsWithSpace(text) {
					line.WriteByte(' ')
				}
			}
		}
	}
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
