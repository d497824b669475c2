package feed

import "testing"

func TestStaticTransformer(t *testing.T) {
	tr := NewStaticTransformer(map[string]any{"type": "IPv4", "confidence": 90})

	ind, attrs, ok := tr.Transform("198.51.100.1")
	if !ok {
		t.Fatal("Transform returned ok=false")
	}
	if ind != "198.51.100.1" {
		t.Errorf("indicator: got %q, want %q", ind, "198.51.100.1")
	}
	if attrs["type"] != "IPv4" || attrs["confidence"] != 90 {
		t.Errorf("attrs: got %v", attrs)
	}
}

func TestStaticTransformer_FirstField(t *testing.T) {
	tr := NewStaticTransformer(nil)

	ind, _, ok := tr.Transform("198.51.100.1 trailing junk")
	if !ok {
		t.Fatal("Transform returned ok=false")
	}
	if ind != "198.51.100.1" {
		t.Errorf("indicator: got %q, want %q", ind, "198.51.100.1")
	}
}

func TestStaticTransformer_NoFields(t *testing.T) {
	tr := NewStaticTransformer(nil)

	if _, _, ok := tr.Transform("   "); ok {
		t.Error("Transform accepted a whitespace-only token")
	}
}

func TestStaticTransformer_CopiesAttributes(t *testing.T) {
	tr := NewStaticTransformer(map[string]any{
		"type": "domain",
		"tags": []any{"botnet"},
	})

	_, first, _ := tr.Transform("evil.example.com")
	first["type"] = "IPv4"
	first["tags"].([]any)[0] = "phishing"

	_, second, _ := tr.Transform("worse.example.com")
	if second["type"] != "domain" {
		t.Errorf("type leaked across records: got %v", second["type"])
	}
	if second["tags"].([]any)[0] != "botnet" {
		t.Errorf("tags leaked across records: got %v", second["tags"])
	}
}

func TestStaticTransformer_NilAttributes(t *testing.T) {
	tr := NewStaticTransformer(nil)

	_, attrs, ok := tr.Transform("198.51.100.1")
	if !ok {
		t.Fatal("Transform returned ok=false")
	}
	if attrs == nil {
		t.Error("attrs: got nil, want empty map")
	}
}
