package lexical

import "testing"

// TestBuildIndexMapping_UsesCJKCapableAnalyzer pins the ik_max_word analyzer
// in place: the standard analyzer never segments CJK into real words, and
// spec §4.3/§6 require mixed CJK/Latin search to work.
func TestBuildIndexMapping_UsesCJKCapableAnalyzer(t *testing.T) {
	mapping := buildIndexMapping()

	settings, ok := mapping["settings"].(map[string]any)
	if !ok {
		t.Fatal("mapping[\"settings\"] missing or wrong type")
	}
	analysis := settings["analysis"].(map[string]any)
	analyzer := analysis["analyzer"].(map[string]any)
	def := analyzer["default"].(map[string]any)
	if def["tokenizer"] != "ik_max_word" {
		t.Errorf("default analyzer tokenizer = %v, want ik_max_word", def["tokenizer"])
	}

	props := mapping["mappings"].(map[string]any)["properties"].(map[string]any)
	segContent := props["seg_content"].(map[string]any)
	if segContent["analyzer"] != "ik_max_word" || segContent["search_analyzer"] != "ik_max_word" {
		t.Errorf("seg_content analyzer/search_analyzer = %v/%v, want ik_max_word/ik_max_word",
			segContent["analyzer"], segContent["search_analyzer"])
	}
}

func TestBuildSearchBody(t *testing.T) {
	tests := []struct {
		name       string
		docIDs     []string
		wantFilter bool
	}{
		{name: "no permission filter", docIDs: nil, wantFilter: false},
		{name: "permission filter applied", docIDs: []string{"d1", "d2"}, wantFilter: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := buildSearchBody("revenue forecast", 10, tt.docIDs)

			query, ok := body["query"].(map[string]any)
			if !ok {
				t.Fatal("body[\"query\"] missing or wrong type")
			}
			boolQuery, ok := query["bool"].(map[string]any)
			if !ok {
				t.Fatal("query[\"bool\"] missing or wrong type")
			}

			should, ok := boolQuery["should"].([]map[string]any)
			if !ok || len(should) != 4 {
				t.Errorf("should clauses = %v, want 4 boosted clauses", should)
			}

			_, hasFilter := boolQuery["filter"]
			if hasFilter != tt.wantFilter {
				t.Errorf("filter present = %v, want %v", hasFilter, tt.wantFilter)
			}

			if body["size"] != 10 {
				t.Errorf("size = %v, want 10", body["size"])
			}
		})
	}
}
