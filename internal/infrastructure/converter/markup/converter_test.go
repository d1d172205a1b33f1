package markup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

type fakeRunner struct {
	dir    string
	args   []string
	input  []byte
	output []byte
	err    error
	block  bool
}

func (f *fakeRunner) Run(ctx context.Context, dir string, args ...string) error {
	f.dir = dir
	f.args = args
	f.input, _ = os.ReadFile(filepath.Join(dir, args[len(args)-1]))
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	for i, a := range args {
		if a == "--output" {
			return os.WriteFile(filepath.Join(dir, args[i+1]), f.output, 0o600)
		}
	}
	return nil
}

func convertInput(from, to string, data []byte) domain.ConversionInput {
	return domain.ConversionInput{Data: data, From: domain.Format{ID: from}, To: domain.Format{ID: to}}
}

func TestConvertRunsPandocInWorkDir(t *testing.T) {
	runner := &fakeRunner{output: []byte("\\documentclass{article}")}
	conv := New(Options{Runner: runner})
	in := convertInput("md", "tex", []byte("# Title"))
	in.WorkDir = t.TempDir()

	out, err := conv.Convert(context.Background(), in)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if string(out) != "\\documentclass{article}" {
		t.Fatalf("unexpected output %q", out)
	}
	if runner.dir != in.WorkDir {
		t.Fatalf("expected pandoc to run in %s, got %s", in.WorkDir, runner.dir)
	}
	if string(runner.input) != "# Title" {
		t.Fatalf("pandoc saw input %q", runner.input)
	}
	joined := strings.Join(runner.args, " ")
	if !strings.Contains(joined, "--from gfm --to latex") || !strings.Contains(joined, "--sandbox") {
		t.Fatalf("unexpected pandoc args %q", joined)
	}
}

func TestConvertMapsPandocExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"parse failure", &ExitError{Code: 64, Stderr: "unexpected end of input"}, domain.ErrInputCorrupt},
		{"unknown writer", &ExitError{Code: 22}, domain.ErrUnsupportedOperation},
		{"missing binary", ExecRunner{Path: filepath.Join(t.TempDir(), "no-pandoc")}.Run(context.Background(), t.TempDir()), domain.ErrBackendUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv := New(Options{Runner: &fakeRunner{err: tc.err}})
			_, err := conv.Convert(context.Background(), convertInput("rst", "docx", []byte("Title\n=====")))
			if !domain.IsKind(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestConvertKillsPandocOnDeadline(t *testing.T) {
	conv := New(Options{Runner: &fakeRunner{block: true}})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := conv.Convert(ctx, convertInput("epub", "md", []byte("PK")))
	if !domain.IsKind(err, domain.ErrBackendTimeout) {
		t.Fatalf("expected backend timeout, got %v", err)
	}
}

func TestMarkdownToHTMLInProcess(t *testing.T) {
	runner := &fakeRunner{}
	out, err := New(Options{Runner: runner}).Convert(context.Background(), convertInput("md", "html", []byte("# Hello\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if runner.args != nil {
		t.Fatal("md to html must not start pandoc")
	}
	html := string(out)
	if !strings.Contains(html, "<h1") || !strings.Contains(html, "<table>") {
		t.Fatalf("unexpected html %q", html)
	}
}

func TestHTMLToTextDropsMarkupAndScripts(t *testing.T) {
	src := `<html><head><title>x</title><style>p{}</style></head><body>
<h1>Report</h1><p>First   <b>bold</b> line</p><script>alert(1)</script><p>A &amp; B</p></body></html>`
	out, err := New(Options{}).Convert(context.Background(), convertInput("html", "txt", []byte(src)))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	want := "Report\nFirst bold line\nA & B\n"
	if string(out) != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestTextToHTMLEscapes(t *testing.T) {
	out, err := New(Options{}).Convert(context.Background(), convertInput("txt", "html", []byte("a < b & c")))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !strings.Contains(string(out), "<pre>a &lt; b &amp; c</pre>") {
		t.Fatalf("unexpected html %q", out)
	}

	_, err = New(Options{}).Convert(context.Background(), convertInput("txt", "html", []byte{0xff, 0xfe, 0x00}))
	if !domain.IsKind(err, domain.ErrInputCorrupt) {
		t.Fatalf("expected corrupt input for binary text, got %v", err)
	}
}

func samplePDF(t *testing.T, words ...string) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(false)
	doc.SetFont("Helvetica", "", 12)
	for _, w := range words {
		doc.AddPage()
		doc.Cell(40, 10, w)
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	return buf.Bytes()
}

func TestPDFToTextHonoursPageRange(t *testing.T) {
	in := convertInput("pdf", "txt", samplePDF(t, "Alpha", "Bravo", "Charlie"))
	in.Options.PageRange = &domain.PageRange{Start: 2, End: 2}

	out, err := New(Options{}).Convert(context.Background(), in)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "Bravo") || strings.Contains(text, "Alpha") || strings.Contains(text, "Charlie") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestPDFToHTMLWrapsPages(t *testing.T) {
	out, err := New(Options{}).Convert(context.Background(), convertInput("pdf", "html", samplePDF(t, "Alpha", "Bravo")))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if strings.Count(string(out), `class="page"`) != 2 {
		t.Fatalf("expected two page sections, got %q", out)
	}
}

func TestPDFExtractionLimits(t *testing.T) {
	conv := New(Options{MaxPages: 1})
	_, err := conv.Convert(context.Background(), convertInput("pdf", "txt", samplePDF(t, "Alpha", "Bravo")))
	if !domain.IsKind(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}

	_, err = conv.Convert(context.Background(), convertInput("pdf", "txt", []byte("%PDF-1.4 truncated")))
	if !domain.IsKind(err, domain.ErrInputCorrupt) {
		t.Fatalf("expected corrupt input, got %v", err)
	}
}
