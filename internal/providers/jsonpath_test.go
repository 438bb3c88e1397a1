package providers

import (
	"encoding/json"
	"testing"
)

func decodeJSON(t *testing.T, raw string) any {
	t.Helper()
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("bad test document: %v", err)
	}
	return doc
}

func TestExtractText(t *testing.T) {
	doc := decodeJSON(t, `{
		"output": "plain",
		"choices": [{"message": {"content": "nested"}, "text": "legacy"}],
		"data": {"items": [["deep"]]},
		"count": 3
	}`)

	tests := []struct {
		path string
		want string
	}{
		{"output", "plain"},
		{"choices[0].message.content", "nested"},
		{"choices[0].text", "legacy"},
		{"data.items[0][0]", "deep"},
	}
	for _, tt := range tests {
		got, err := ExtractText(doc, tt.path)
		if err != nil {
			t.Fatalf("ExtractText(%q) failed: %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("ExtractText(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestExtractTextErrors(t *testing.T) {
	doc := decodeJSON(t, `{"choices": [{"text": "hi"}], "count": 3}`)

	for _, path := range []string{
		"missing",            // field not found
		"choices[5].text",    // index out of range
		"choices.text",       // array addressed as object
		"count",              // not a string
		"choices[x]",         // malformed index
		"",                   // empty segment
	} {
		if _, err := ExtractText(doc, path); err == nil {
			t.Errorf("ExtractText(%q) should have failed", path)
		}
	}
}
