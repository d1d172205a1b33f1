package markup

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

type pageText struct {
	Number int
	Text   string
}

// extractPages returns the plain text of every page inside pageRange.
func extractPages(data []byte, pageRange *domain.PageRange, maxPages int) (pages []pageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: malformed pdf: %v", errCorrupt, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", errCorrupt, err)
	}
	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", errCorrupt)
	}

	start, end := 1, total
	if pageRange != nil {
		if pageRange.Start > total {
			return nil, fmt.Errorf("%w: page range %s beyond %d pages", errBadRange, pageRange, total)
		}
		start = pageRange.Start
		end = min(pageRange.End, total)
	}
	if maxPages > 0 && end-start+1 > maxPages {
		return nil, fmt.Errorf("%w: %d pages requested, limit %d", errTooManyPages, end-start+1, maxPages)
	}

	for n := start; n <= end; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", errCorrupt, n, err)
		}
		pages = append(pages, pageText{Number: n, Text: strings.TrimSpace(text)})
	}
	return pages, nil
}

func renderPagesText(pages []pageText) []byte {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\f\n")
		}
		b.WriteString(p.Text)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "#", `\#`, "[", `\[`, "]", `\]`, "<", `\<`,
)

func renderPagesMarkdown(pages []pageText) []byte {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		for _, para := range paragraphs(p.Text) {
			b.WriteString(markdownEscaper.Replace(para))
			b.WriteString("\n\n")
		}
	}
	return []byte(b.String())
}

func renderPagesHTML(pages []pageText) []byte {
	var body strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&body, "<section class=\"page\" data-page=\"%d\">\n", p.Number)
		for _, para := range paragraphs(p.Text) {
			body.WriteString("<p>")
			body.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>\n"))
			body.WriteString("</p>\n")
		}
		body.WriteString("</section>\n")
	}
	return wrapDocument(body.String())
}

func paragraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			out = append(out, block)
		}
	}
	return out
}
