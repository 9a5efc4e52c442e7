package transcript

import "testing"

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		incoming string
		expected string
	}{
		{"empty incoming", "hello", "", "hello"},
		{"empty current", "", "  hello ", "hello"},
		{"both empty", "", "", ""},
		{"identical", "hello", "hello", "hello"},
		{"extended revision", "hello", "hello world", "hello world"},
		{"re-sent prefix", "hello world", "hello", "hello world"},
		{"suffix overlap", "hello wor", "world peace", "hello world peace"},
		{"no overlap", "foo", "bar", "foobar"},
		{"whitespace only incoming", "hello", "   ", "hello"},
		{"maximal overlap preferred", "abab", "ababc", "ababc"},
		{"maximal overlap inside", "xabab", "ababz", "xababz"},
		{"trims result", "  hello", "lo there", "hello there"},
		{"multibyte overlap", "今天天气", "天气很好", "今天天气很好"},
		{"multibyte no overlap", "你好", "世界", "你好世界"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Merge(tt.current, tt.incoming); got != tt.expected {
				t.Errorf("Merge(%q, %q) = %q, expected %q", tt.current, tt.incoming, got, tt.expected)
			}
		})
	}
}

func TestMergeIdempotent(t *testing.T) {
	inputs := []string{"", "a", "hello", "hello wor", "world peace", "lo", " spaced ", "今天天气", "天气很好", "abab"}

	for _, s := range inputs {
		for _, x := range inputs {
			once := Merge(s, x)
			twice := Merge(once, x)
			if once != twice {
				t.Errorf("Merge not idempotent for (%q, %q): %q then %q", s, x, once, twice)
			}
		}
	}
}

func TestStitcher(t *testing.T) {
	s := NewStitcher()

	if s.Add(Segment{Text: "hel", Definite: false}) {
		t.Error("Interim segment should not change the transcript")
	}
	if s.Interim() != "hel" {
		t.Errorf("Expected interim 'hel', got %q", s.Interim())
	}
	if s.Text() != "" {
		t.Errorf("Expected empty transcript, got %q", s.Text())
	}

	if !s.Add(Segment{Text: "hello wor", Definite: true}) {
		t.Error("Definite segment should change the transcript")
	}
	if s.Interim() != "" {
		t.Errorf("Expected interim cleared, got %q", s.Interim())
	}

	s.Add(Segment{Text: "hello world", Definite: true})
	if s.Add(Segment{Text: "hello world", Definite: true}) {
		t.Error("Repeated segment should not change the transcript")
	}
	if s.Add(Segment{Text: "", Definite: true}) {
		t.Error("Empty segment should not change the transcript")
	}

	if s.Text() != "hello world" {
		t.Errorf("Expected 'hello world', got %q", s.Text())
	}
}
