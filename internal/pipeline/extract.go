package pipeline

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dslipak/pdf"

	"github.com/kbragio/kbrag/internal/chunker"
)

// titleMaxChars bounds how long a standalone, unpunctuated line can be
// before the title heuristic stops treating it as a heading candidate.
const titleMaxChars = 80

// ExtractPages turns a downloaded source file into a per-page element
// stream. PDFs get real page boundaries; every other supported format
// yields a single page, since none of the pure-Go extractors below expose
// pagination. Markdown's native heading/table/image syntax is parsed into
// real title/table/image elements; every other format falls back to the
// same short-unpunctuated-line heuristic the original extractor uses to
// spot a caption candidate, applied here to spot a title candidate.
func ExtractPages(path, extension string) ([]chunker.Page, error) {
	switch strings.ToLower(strings.TrimPrefix(extension, ".")) {
	case "pdf":
		return extractPDFPages(path)
	case "docx":
		text, err := extractDOCX(path)
		if err != nil {
			return nil, err
		}
		return onePage(text), nil
	case "txt":
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", extension, err)
		}
		return onePage(string(content)), nil
	case "md":
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", extension, err)
		}
		return []chunker.Page{{PageIdx: 1, Elements: classifyMarkdown(string(content))}}, nil
	default:
		return nil, fmt.Errorf("unsupported source format %q", extension)
	}
}

func onePage(text string) []chunker.Page {
	return []chunker.Page{{PageIdx: 1, Elements: classifyParagraphs(text)}}
}

// classifyParagraphs splits a page's plain text on blank lines and tags
// each paragraph as a title or a text block.
func classifyParagraphs(text string) []chunker.Element {
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	elements := make([]chunker.Element, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if looksLikeTitle(p) {
			elements = append(elements, chunker.Element{Type: chunker.ElementTitle, Text: p})
			continue
		}
		elements = append(elements, chunker.Element{Type: chunker.ElementText, Text: p})
	}
	return elements
}

// looksLikeTitle flags a short, single-line, unpunctuated paragraph as a
// heading candidate -- the same "short preceding text" signal the original
// extractor borrows as a table/image caption when no real caption exists.
func looksLikeTitle(p string) bool {
	if strings.Contains(p, "\n") {
		return false
	}
	if utf8.RuneCountInString(p) == 0 || utf8.RuneCountInString(p) > titleMaxChars {
		return false
	}
	const terminators = ".。!?！？"
	last, _ := utf8.DecodeLastRuneInString(p)
	return !strings.ContainsRune(terminators, last)
}

var (
	mdHeadingRe = regexp.MustCompile(`^#{1,6}\s+(.+)$`)
	mdImageRe   = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)]+)\)$`)
)

// classifyMarkdown gives Markdown's native syntax real structural
// awareness that plain-text extraction can't offer: ATX headings become
// title elements, image syntax becomes an image element with its alt text
// as a caption candidate, and GFM pipe tables become table elements;
// everything else falls back to the paragraph/title heuristic shared with
// the other formats.
func classifyMarkdown(content string) []chunker.Element {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	var elements []chunker.Element
	var textBuf []string

	flushText := func() {
		if len(textBuf) == 0 {
			return
		}
		elements = append(elements, classifyParagraphs(strings.Join(textBuf, "\n"))...)
		textBuf = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if m := mdHeadingRe.FindStringSubmatch(trimmed); m != nil {
			flushText()
			elements = append(elements, chunker.Element{Type: chunker.ElementTitle, Text: strings.TrimSpace(m[1])})
			continue
		}
		if m := mdImageRe.FindStringSubmatch(trimmed); m != nil {
			flushText()
			elements = append(elements, chunker.Element{Type: chunker.ElementImage, ImagePath: m[2], Caption: strings.TrimSpace(m[1])})
			continue
		}
		if strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") {
			flushText()
			tableLines := []string{line}
			for i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i+1]), "|") {
				i++
				tableLines = append(tableLines, lines[i])
			}
			elements = append(elements, chunker.Element{Type: chunker.ElementTable, TableHTML: strings.Join(tableLines, "\n")})
			continue
		}
		if trimmed == "" {
			textBuf = append(textBuf, "")
			continue
		}
		textBuf = append(textBuf, line)
	}
	flushText()
	return elements
}

// extractPDFPages splits the document's plain text on the form-feed byte
// dslipak/pdf inserts between pages.
func extractPDFPages(path string) ([]chunker.Page, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return nil, fmt.Errorf("buffer pdf text: %w", err)
	}
	return splitFormFeedPages(buf.String()), nil
}

// splitFormFeedPages is the pure part of extractPDFPages: it turns one
// form-feed-delimited text blob into a 1-indexed page stream, dropping
// every blank page; kept pages retain their position in the source as
// PageIdx.
func splitFormFeedPages(text string) []chunker.Page {
	rawPages := strings.Split(text, "\f")
	pages := make([]chunker.Page, 0, len(rawPages))
	for i, pageText := range rawPages {
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		elements := classifyParagraphs(pageText)
		if len(elements) == 0 {
			continue
		}
		pages = append(pages, chunker.Page{PageIdx: i + 1, Elements: elements})
	}
	return pages
}

// extractDOCX reads the paragraph text out of a .docx's word/document.xml,
// treating every <w:p> as a paragraph break and every <w:tab/> as a tab.
func extractDOCX(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx zip: %w", err)
	}
	defer r.Close()

	var documentXML *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			documentXML = f
			break
		}
	}
	if documentXML == nil {
		return "", fmt.Errorf("invalid docx: missing word/document.xml")
	}

	rc, err := documentXML.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var text strings.Builder
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "p" {
				text.WriteString("\n\n")
			}
			if t.Name.Local == "tab" {
				text.WriteString("\t")
			}
		case xml.CharData:
			text.Write(t)
		}
	}
	return text.String(), nil
}
