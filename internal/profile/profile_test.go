package profile

import (
	"testing"
)

func TestGet(t *testing.T) {
	t.Run("empty name is default", func(t *testing.T) {
		if p := Get(""); p.Name != "default" {
			t.Errorf("got %q, want default", p.Name)
		}
	})

	t.Run("all builtins resolve", func(t *testing.T) {
		for _, name := range Names() {
			p := Get(name)
			if p.Name != name {
				t.Errorf("Get(%q).Name = %q", name, p.Name)
			}
			if p.Chunk.WindowChars <= 0 || p.Chunk.StrideChars <= 0 {
				t.Errorf("%s: chunk rules not set: %+v", name, p.Chunk)
			}
		}
	})

	t.Run("unknown name falls back to default", func(t *testing.T) {
		if p := Get("fanfic"); p.Name != "default" {
			t.Errorf("Get(\"fanfic\") = %q, want default", p.Name)
		}
	})

	t.Run("names are case-insensitive", func(t *testing.T) {
		if p := Get("  Markdown "); p.Name != "markdown" {
			t.Errorf("Get(\"  Markdown \") = %q, want markdown", p.Name)
		}
		if p := Get("SCREENPLAY"); p.Name != "screenplay" {
			t.Errorf("Get(\"SCREENPLAY\") = %q, want screenplay", p.Name)
		}
	})
}

func TestLookup(t *testing.T) {
	if _, ok := Lookup("fanfic"); ok {
		t.Error("Lookup(\"fanfic\") should miss")
	}
	p, ok := Lookup("Dense")
	if !ok || p.Name != "dense" {
		t.Errorf("Lookup(\"Dense\") = %v, %v", p, ok)
	}
}

func TestNames(t *testing.T) {
	want := []string{"default", "dense", "markdown", "pdf_pages", "screenplay", "sparse"}
	got := Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestChunkDefaults(t *testing.T) {
	cases := []struct {
		name    string
		window  int
		stride  int
		minimum int
	}{
		{"default", 512, 384, 40},
		{"dense", 384, 256, 20},
		{"sparse", 1024, 768, 80},
		{"markdown", 512, 384, 1},
		{"screenplay", 512, 384, 5},
		{"pdf_pages", 512, 384, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Get(tc.name)
			if p.Chunk.WindowChars != tc.window {
				t.Errorf("window: got %d, want %d", p.Chunk.WindowChars, tc.window)
			}
			if p.Chunk.StrideChars != tc.stride {
				t.Errorf("stride: got %d, want %d", p.Chunk.StrideChars, tc.stride)
			}
			if p.Scene.MinSceneChars != tc.minimum {
				t.Errorf("min scene chars: got %d, want %d", p.Scene.MinSceneChars, tc.minimum)
			}
		})
	}
}

func TestMarkdownRules(t *testing.T) {
	p := Get("markdown")

	headings := []string{"# Title", "###### Deep", "  ## Indented"}
	for _, line := range headings {
		if !p.Scene.HeadingRegex.MatchString(line) {
			t.Errorf("heading regex should match %q", line)
		}
	}
	nonHeadings := []string{"#NoSpace", "plain prose", "####### seven"}
	for _, line := range nonHeadings {
		if p.Scene.HeadingRegex.MatchString(line) {
			t.Errorf("heading regex should not match %q", line)
		}
	}

	if !p.Scene.FenceOpenRegex.MatchString("```python") {
		t.Error("fence open should match ```python")
	}
	if !p.Scene.FenceOpenRegex.MatchString("~~~") {
		t.Error("fence open should match ~~~")
	}
	if !p.Scene.FenceCloseRegex.MatchString("```") {
		t.Error("fence close should match bare ```")
	}
	if p.Scene.FenceCloseRegex.MatchString("```python") {
		t.Error("fence close should not match an open with info string")
	}
}

func TestScreenplayRules(t *testing.T) {
	p := Get("screenplay")

	if !p.Scene.HeadingRegex.MatchString("INT. HOUSE - NIGHT") {
		t.Error("heading should match INT. sluglines")
	}
	if !p.Scene.HeadingRegex.MatchString("EXT. STREET - DAY") {
		t.Error("heading should match EXT. sluglines")
	}
	if p.Scene.HeadingRegex.MatchString("INTERIOR HOUSE") {
		t.Error("heading should not match without the dot form")
	}
	if !p.Scene.HeadingConsumesLine {
		t.Error("screenplay headings are consumed")
	}

	if len(p.Scene.ExtraSplitRegexes) != 2 {
		t.Fatalf("expected cue + transition extras, got %d", len(p.Scene.ExtraSplitRegexes))
	}
	cue, transition := p.Scene.ExtraSplitRegexes[0], p.Scene.ExtraSplitRegexes[1]
	if !cue.MatchString("JOHN DOE") {
		t.Error("cue should match an uppercase character name")
	}
	if cue.MatchString("John Doe") {
		t.Error("cue should not match mixed case")
	}
	if !transition.MatchString("CUT TO:") {
		t.Error("transition should match CUT TO:")
	}
	if !transition.MatchString("FADE OUT:") {
		t.Error("transition should match FADE OUT:")
	}
}

func TestPDFPagesRules(t *testing.T) {
	p := Get("pdf_pages")

	if !p.Scene.HeadingRegex.MatchString("[[PAGE_BREAK]]") {
		t.Error("should match the bare sentinel")
	}
	if !p.Scene.HeadingRegex.MatchString("  [[PAGE_BREAK]]  ") {
		t.Error("should match the sentinel with surrounding space")
	}
	if p.Scene.HeadingRegex.MatchString("text [[PAGE_BREAK]]") {
		t.Error("should not match a sentinel embedded in text")
	}
	if !p.Scene.HeadingConsumesLine {
		t.Error("page break lines are consumed")
	}
}

func TestDescribe(t *testing.T) {
	ds := Describe()
	if len(ds) != len(Names()) {
		t.Fatalf("Describe() returned %d entries, want %d", len(ds), len(Names()))
	}
	for _, d := range ds {
		if d["name"] == "markdown" {
			if d["fenced_code"] != true {
				t.Error("markdown description should flag fenced_code")
			}
			if _, ok := d["heading_regex"]; !ok {
				t.Error("markdown description should carry heading_regex")
			}
		}
		if d["name"] == "default" {
			if _, ok := d["heading_regex"]; ok {
				t.Error("default has no heading regex")
			}
		}
	}
}
