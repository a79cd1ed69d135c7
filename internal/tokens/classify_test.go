package tokens

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want ContentType
	}{
		{"fenced", "Try this:\n\n```\nls -la\n```\n", ContentCode},
		{"unfenced go", "func main() {\n\tx := 1\n}", ContentCode},
		{"heading", "# Title\n\nSome *bold* text.", ContentMarkdown},
		{"list", "Shopping:\n\n- eggs\n- milk\n", ContentMarkdown},
		{"json", `{"a": 1, "b": [2, 3]}`, ContentStructured},
		{"key value", "name: widget\ncolor: blue\n", ContentStructured},
		{"table", "a | b\nc | d", ContentStructured},
		{"plain", "I would like to book a table for two tonight.", ContentPlain},
		{"prose with arrow", "Click save -> done.", ContentPlain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseDocument_StripsFences(t *testing.T) {
	text := "before\n\n```python\nprint(1)\n```\n\nafter\n"
	doc := parseDocument(text)
	if len(doc.blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(doc.blocks))
	}
	if doc.blocks[0].language != "python" {
		t.Errorf("language = %q, want python", doc.blocks[0].language)
	}
	if doc.blocks[0].body != "print(1)\n" {
		t.Errorf("body = %q", doc.blocks[0].body)
	}
	if doc.remainder != "before\n\n\nafter\n" {
		t.Errorf("remainder = %q", doc.remainder)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"py":        "python",
		"Python":    "python",
		"golang":    "go",
		"go":        "go",
		"zzqx-lang": "zzqx-lang",
	}
	for in, want := range tests {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
