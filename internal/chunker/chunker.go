// Package chunker implements component I: structure-aware document
// segmentation. It turns a merged per-page element stream into the
// retrieval units persisted as segment_info rows.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/model"
)

// ElementType mirrors the merge stage's per-page element kinds.
type ElementType string

const (
	ElementText     ElementType = "text"
	ElementTable    ElementType = "table"
	ElementImage    ElementType = "image"
	ElementTitle    ElementType = "title"
	ElementCaption  ElementType = "caption"
	ElementFootnote ElementType = "footnote"
)

// Element is one piece of merged page content, already structurally parsed
// (a paragraph, a table body, or an image reference) by the upstream
// convert/parse/merge stages.
type Element struct {
	Type ElementType

	Text string // for ElementText: the paragraph text

	TableHTML string // for ElementTable: the linearized table body
	Caption   string
	Footnote  string
	ImagePath string // for ElementTable/ElementImage
}

// Page is one page's worth of merged elements, in reading order.
type Page struct {
	PageIdx  int
	Elements []Element
}

// Chunk turns a document's merged pages into segment_info rows. Text
// paragraphs are greedily merged up to TextSoftLimitChars without ever
// splitting a sentence or crossing a page boundary; every table and image
// becomes exactly one segment with its caption attached; a page_summary
// segment is appended per page when PageSummaryEnabled (spec §9 open
// question: chunker-owned, config-gated, off by default).
func Chunk(docID string, pages []Page, cfg conf.PipelineConfig) []model.Segment {
	var segments []model.Segment

	for _, page := range pages {
		var pageTextParts []string
		currentTitle := ""

		for _, el := range page.Elements {
			switch el.Type {
			case ElementTitle:
				currentTitle = strings.TrimSpace(el.Text)
				pageTextParts = append(pageTextParts, currentTitle)

			case ElementText:
				for _, chunk := range mergeParagraphs(el.Text, cfg.TextSoftLimitChars) {
					segments = append(segments, newSegment(docID, model.SegText, page.PageIdx, chunk, "", currentTitle, ""))
					pageTextParts = append(pageTextParts, chunk)
				}

			case ElementTable:
				content := strings.TrimSpace(el.TableHTML)
				if content == "" {
					continue
				}
				segments = append(segments, newSegment(docID, model.SegTable, page.PageIdx, content, el.ImagePath, el.Caption, el.Footnote))
				pageTextParts = append(pageTextParts, el.Caption)

			case ElementImage:
				if el.ImagePath == "" {
					continue
				}
				caption := el.Caption
				if caption == "" {
					caption = fmt.Sprintf("image_%d_%d", page.PageIdx, len(segments))
				}
				segments = append(segments, newSegment(docID, model.SegImage, page.PageIdx, caption, el.ImagePath, caption, el.Footnote))
				pageTextParts = append(pageTextParts, caption)
			}
		}

		if cfg.PageSummaryEnabled && len(pageTextParts) > 0 {
			summary := strings.Join(pageTextParts, " ")
			segments = append(segments, newSegment(docID, model.SegPageSummary, page.PageIdx, summary, "", "", ""))
		}
	}

	return segments
}

// shortCaptionChars bounds how long a plain text block can be before it
// stops being a plausible caption borrow, mirroring the 100-char cutoff the
// original content merger used to decide whether a preceding paragraph was
// short enough to stand in for a missing table/image title.
const shortCaptionChars = 100

// AttachCaptions implements the Merge stage's proximity-based caption and
// footnote attachment rule: a table or image left without a caption by the
// parser adopts the nearest preceding title/caption block, or a short
// preceding text block, within two elements; a footnote attaches from the
// block immediately following it on the same page. Title and caption
// marker elements are otherwise never turned into their own segment.
func AttachCaptions(pages []Page) []Page {
	for pi := range pages {
		elements := pages[pi].Elements
		out := make([]Element, 0, len(elements))

		for i, el := range elements {
			switch el.Type {
			case ElementTable, ElementImage:
				if el.Caption == "" {
					el.Caption = nearestPrecedingCaption(elements, i)
				}
				if el.Footnote == "" {
					el.Footnote = nearestFollowingFootnote(elements, i)
				}
				out = append(out, el)
			case ElementCaption, ElementFootnote:
				continue
			default:
				out = append(out, el)
			}
		}
		pages[pi].Elements = out
	}
	return pages
}

func nearestPrecedingCaption(elements []Element, idx int) string {
	for back := 1; back <= 2 && idx-back >= 0; back++ {
		prev := elements[idx-back]
		switch prev.Type {
		case ElementCaption, ElementTitle:
			if text := strings.TrimSpace(prev.Text); text != "" {
				return text
			}
		case ElementText:
			if text := strings.TrimSpace(prev.Text); text != "" && len(text) < shortCaptionChars {
				return text
			}
		}
	}
	return ""
}

func nearestFollowingFootnote(elements []Element, idx int) string {
	if idx+1 < len(elements) && elements[idx+1].Type == ElementFootnote {
		return strings.TrimSpace(elements[idx+1].Text)
	}
	return ""
}

func newSegment(docID string, segType model.SegType, pageIdx int, content, imagePath, caption, footnote string) model.Segment {
	return model.Segment{
		SegID:        generateSegID(docID, segType, pageIdx, content),
		DocID:        docID,
		SegContent:   content,
		SegImagePath: imagePath,
		SegCaption:   caption,
		SegFootnote:  footnote,
		SegLen:       len(content),
		SegType:      segType,
		SegPageIdx:   pageIdx,
	}
}

// generateSegID hashes (doc_id, seg_type, page_idx, content) so re-chunking
// the same document with unchanged input reproduces the same seg_id
// (idempotent upserts into the vector/lexical stores), while still
// disambiguating identical content appearing in different documents or
// pages, unlike the content-only hash.
func generateSegID(docID string, segType model.SegType, pageIdx int, content string) string {
	h := sha256.New()
	h.Write([]byte(docID))
	h.Write([]byte{0})
	h.Write([]byte(segType))
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%d", pageIdx)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// mergeParagraphs splits text into sentences and greedily packs them into
// chunks no longer than softLimit, never breaking mid-sentence. A single
// sentence longer than softLimit becomes its own oversized chunk rather
// than being cut.
func mergeParagraphs(text string, softLimit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)
	var chunks []string
	var current strings.Builder

	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+1+len(s) > softLimit {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

// splitSentences breaks on paragraph breaks first, then sentence-ending
// punctuation (ASCII and CJK), keeping the delimiter attached to its sentence.
func splitSentences(text string) []string {
	paragraphs := strings.Split(text, "\n\n")
	var sentences []string
	for _, p := range paragraphs {
		sentences = append(sentences, splitOnPunctuation(p)...)
	}
	return sentences
}

func splitOnPunctuation(text string) []string {
	const delimiters = "。！？.!?\n"
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		// An ASCII '.' ends a sentence only before whitespace or the end of
		// the text, so decimals like "3.5" stay whole.
		if r == '.' && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if strings.ContainsRune(delimiters, r) {
			trimmed := strings.TrimSpace(current.String())
			if trimmed != "" {
				sentences = append(sentences, trimmed)
			}
			current.Reset()
		}
	}
	if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
		sentences = append(sentences, trimmed)
	}
	return sentences
}
