package chunker

import (
	"strings"
	"testing"

	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/model"
)

func testPipelineConfig() conf.PipelineConfig {
	return conf.PipelineConfig{TextSoftLimitChars: 50, PageSummaryEnabled: false}
}

func TestChunk_TextNeverSplitsMidSentence(t *testing.T) {
	pages := []Page{
		{PageIdx: 1, Elements: []Element{
			{Type: ElementText, Text: "Short sentence one. Short sentence two. Short sentence three."},
		}},
	}

	segs := Chunk("doc-1", pages, testPipelineConfig())
	for _, s := range segs {
		if s.SegType != model.SegText {
			continue
		}
		if strings.HasSuffix(s.SegContent, "one") || strings.HasSuffix(s.SegContent, "two") {
			t.Errorf("segment ends mid-sentence: %q", s.SegContent)
		}
	}
	if len(segs) < 2 {
		t.Errorf("expected the soft limit to force more than one segment, got %d", len(segs))
	}
}

func TestChunk_NeverCrossesPageBoundary(t *testing.T) {
	pages := []Page{
		{PageIdx: 1, Elements: []Element{{Type: ElementText, Text: "Page one content."}}},
		{PageIdx: 2, Elements: []Element{{Type: ElementText, Text: "Page two content."}}},
	}

	segs := Chunk("doc-1", pages, testPipelineConfig())
	for _, s := range segs {
		if s.SegPageIdx == 1 && strings.Contains(s.SegContent, "Page two") {
			t.Error("page 1 segment contains page 2 content")
		}
	}
}

func TestChunk_TableAndImageProduceOneSegmentEach(t *testing.T) {
	pages := []Page{
		{PageIdx: 1, Elements: []Element{
			{Type: ElementTable, TableHTML: "<table><tr><td>1</td></tr></table>", Caption: "Table 1"},
			{Type: ElementImage, ImagePath: "page1/img1.png", Caption: "Figure 1"},
		}},
	}

	segs := Chunk("doc-1", pages, testPipelineConfig())
	var tables, images int
	for _, s := range segs {
		switch s.SegType {
		case model.SegTable:
			tables++
			if s.SegCaption != "Table 1" {
				t.Errorf("table caption = %q, want %q", s.SegCaption, "Table 1")
			}
		case model.SegImage:
			images++
			if s.SegImagePath != "page1/img1.png" {
				t.Errorf("image path = %q, want %q", s.SegImagePath, "page1/img1.png")
			}
		}
	}
	if tables != 1 || images != 1 {
		t.Errorf("got %d table segments and %d image segments, want 1 each", tables, images)
	}
}

func TestChunk_ImageWithoutCaptionGetsDefaultCaption(t *testing.T) {
	pages := []Page{
		{PageIdx: 3, Elements: []Element{{Type: ElementImage, ImagePath: "p3/img.png"}}},
	}

	segs := Chunk("doc-1", pages, testPipelineConfig())
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].SegCaption == "" {
		t.Error("image segment with no caption should still get a default caption")
	}
}

func TestChunk_EmptyTableAndImageSkipped(t *testing.T) {
	pages := []Page{
		{PageIdx: 1, Elements: []Element{
			{Type: ElementTable, TableHTML: "   "},
			{Type: ElementImage, ImagePath: ""},
		}},
	}

	segs := Chunk("doc-1", pages, testPipelineConfig())
	if len(segs) != 0 {
		t.Errorf("got %d segments, want 0 for empty table/image content", len(segs))
	}
}

func TestChunk_PageSummaryOptIn(t *testing.T) {
	pages := []Page{
		{PageIdx: 1, Elements: []Element{{Type: ElementText, Text: "Some content."}}},
	}

	cfg := testPipelineConfig()
	cfg.PageSummaryEnabled = true
	segs := Chunk("doc-1", pages, cfg)

	var summaries int
	for _, s := range segs {
		if s.SegType == model.SegPageSummary {
			summaries++
		}
	}
	if summaries != 1 {
		t.Errorf("got %d page_summary segments with PageSummaryEnabled, want 1", summaries)
	}
}

func TestChunk_TitleAttachesAsSegCaptionToFollowingText(t *testing.T) {
	pages := []Page{
		{PageIdx: 1, Elements: []Element{
			{Type: ElementTitle, Text: "Revenue Outlook"},
			{Type: ElementText, Text: "Revenue grew by double digits."},
			{Type: ElementTitle, Text: "Risk Factors"},
			{Type: ElementText, Text: "Currency exposure remains a concern."},
		}},
	}

	segs := Chunk("doc-1", pages, testPipelineConfig())
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2 (titles produce no segment of their own)", len(segs))
	}
	if segs[0].SegCaption != "Revenue Outlook" {
		t.Errorf("first text segment caption = %q, want %q", segs[0].SegCaption, "Revenue Outlook")
	}
	if segs[1].SegCaption != "Risk Factors" {
		t.Errorf("second text segment caption = %q, want %q", segs[1].SegCaption, "Risk Factors")
	}
}

func TestAttachCaptions_TableBorrowsNearestPrecedingShortText(t *testing.T) {
	pages := []Page{
		{PageIdx: 1, Elements: []Element{
			{Type: ElementText, Text: "Quarterly Results"},
			{Type: ElementTable, TableHTML: "<table><tr><td>1</td></tr></table>"},
		}},
	}

	attached := AttachCaptions(pages)
	if len(attached[0].Elements) != 2 {
		t.Fatalf("got %d elements, want 2 (preceding text block kept, not consumed)", len(attached[0].Elements))
	}
	table := attached[0].Elements[1]
	if table.Caption != "Quarterly Results" {
		t.Errorf("table caption = %q, want %q", table.Caption, "Quarterly Results")
	}
}

func TestAttachCaptions_ImageBorrowsTitleWithinTwoBlocks(t *testing.T) {
	pages := []Page{
		{PageIdx: 1, Elements: []Element{
			{Type: ElementTitle, Text: "Figure 1"},
			{Type: ElementText, Text: "This paragraph is long enough that it would not normally qualify as a caption on its own, but the title two blocks back should still win."},
			{Type: ElementImage, ImagePath: "p1/img.png"},
		}},
	}

	attached := AttachCaptions(pages)
	image := attached[0].Elements[2]
	if image.Caption != "Figure 1" {
		t.Errorf("image caption = %q, want %q", image.Caption, "Figure 1")
	}
}

func TestAttachCaptions_FootnoteAttachesFromBlockBelow(t *testing.T) {
	pages := []Page{
		{PageIdx: 1, Elements: []Element{
			{Type: ElementTable, TableHTML: "<table></table>", Caption: "Table 1"},
			{Type: ElementFootnote, Text: "Source: internal filings."},
		}},
	}

	attached := AttachCaptions(pages)
	if len(attached[0].Elements) != 1 {
		t.Fatalf("got %d elements, want 1 (footnote marker consumed)", len(attached[0].Elements))
	}
	table := attached[0].Elements[0]
	if table.Footnote != "Source: internal filings." {
		t.Errorf("table footnote = %q, want %q", table.Footnote, "Source: internal filings.")
	}
}

func TestAttachCaptions_DoesNotOverwriteExistingCaption(t *testing.T) {
	pages := []Page{
		{PageIdx: 1, Elements: []Element{
			{Type: ElementText, Text: "Ignored title"},
			{Type: ElementTable, TableHTML: "<table></table>", Caption: "Already Set"},
		}},
	}

	attached := AttachCaptions(pages)
	if attached[0].Elements[1].Caption != "Already Set" {
		t.Errorf("caption = %q, want unchanged %q", attached[0].Elements[1].Caption, "Already Set")
	}
}

func TestGenerateSegID_DeterministicAndDocScoped(t *testing.T) {
	id1 := generateSegID("doc-1", model.SegText, 1, "same content")
	id2 := generateSegID("doc-1", model.SegText, 1, "same content")
	if id1 != id2 {
		t.Error("generateSegID is not deterministic for identical input")
	}

	id3 := generateSegID("doc-2", model.SegText, 1, "same content")
	if id1 == id3 {
		t.Error("generateSegID collided across different doc_ids for identical content")
	}
}
