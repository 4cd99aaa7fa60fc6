// Package profile defines the named rule sets that drive scene segmentation
// and chunk sizing.
//
// A profile bundles scene rules (what starts a new scene) with chunk rules
// (window and stride for the sliding chunker). Built-ins cover general prose
// at three densities, markdown with fenced-code awareness, screenplay
// format, and page-delimited PDF text.
package profile

import (
	"regexp"
	"sort"
	"strings"
)

// SceneRules governs where scene boundaries fall.
type SceneRules struct {
	// BreakOnBlank splits on blank lines.
	BreakOnBlank bool
	// HeadingRegex, when non-nil, splits before a matching line.
	HeadingRegex *regexp.Regexp
	// MinSceneChars suppresses shorter spans (except the first and the
	// document tail).
	MinSceneChars int
	// HeadingConsumesLine excludes the matching line from both the scene it
	// ends and the scene it starts.
	HeadingConsumesLine bool
	// ExtraSplitRegexes split before a matching line without consuming it.
	ExtraSplitRegexes []*regexp.Regexp
	// FenceOpenRegex/FenceCloseRegex delimit regions where no rule applies.
	FenceOpenRegex  *regexp.Regexp
	FenceCloseRegex *regexp.Regexp
}

// ChunkRules carries the chunker defaults for a profile.
type ChunkRules struct {
	WindowChars int
	StrideChars int
}

// Profile is a named segmentation rule set.
type Profile struct {
	Name  string
	Scene SceneRules
	Chunk ChunkRules
}

// DefaultName is the profile used when none is requested.
const DefaultName = "default"

var (
	markdownHeading = regexp.MustCompile(`^\s*#{1,6}\s+.+$`)
	fenceOpen       = regexp.MustCompile("^\\s*(```|~~~)")
	fenceClose      = regexp.MustCompile("^\\s*(```|~~~)\\s*$")

	screenplayHeading    = regexp.MustCompile(`^\s*(INT\.|EXT\.|EST\.|INT/EXT\.)\s+.+$`)
	screenplayCue        = regexp.MustCompile(`^\s{0,20}[A-Z][A-Z0-9 .'\-()]{2,}$`)
	screenplayTransition = regexp.MustCompile(`^\s*(CUT TO:|FADE (IN|OUT):|DISSOLVE TO:)\s*$`)

	pageBreak = regexp.MustCompile(`^\s*\[\[PAGE_BREAK\]\]\s*$`)
)

var builtins = map[string]*Profile{
	"default": {
		Name:  "default",
		Scene: SceneRules{BreakOnBlank: true, MinSceneChars: 40},
		Chunk: ChunkRules{WindowChars: 512, StrideChars: 384},
	},
	"dense": {
		Name:  "dense",
		Scene: SceneRules{BreakOnBlank: true, MinSceneChars: 20},
		Chunk: ChunkRules{WindowChars: 384, StrideChars: 256},
	},
	"sparse": {
		Name:  "sparse",
		Scene: SceneRules{BreakOnBlank: true, MinSceneChars: 80},
		Chunk: ChunkRules{WindowChars: 1024, StrideChars: 768},
	},
	"markdown": {
		Name: "markdown",
		Scene: SceneRules{
			BreakOnBlank:    false,
			HeadingRegex:    markdownHeading,
			MinSceneChars:   1,
			FenceOpenRegex:  fenceOpen,
			FenceCloseRegex: fenceClose,
		},
		Chunk: ChunkRules{WindowChars: 512, StrideChars: 384},
	},
	"screenplay": {
		Name: "screenplay",
		Scene: SceneRules{
			BreakOnBlank:        true,
			HeadingRegex:        screenplayHeading,
			MinSceneChars:       5,
			HeadingConsumesLine: true,
			ExtraSplitRegexes:   []*regexp.Regexp{screenplayCue, screenplayTransition},
		},
		Chunk: ChunkRules{WindowChars: 512, StrideChars: 384},
	},
	"pdf_pages": {
		Name: "pdf_pages",
		Scene: SceneRules{
			BreakOnBlank:        false,
			HeadingRegex:        pageBreak,
			MinSceneChars:       1,
			HeadingConsumesLine: true,
		},
		Chunk: ChunkRules{WindowChars: 512, StrideChars: 384},
	},
}

// Get resolves a profile by name, case-insensitively. The empty string and
// unknown names both resolve to the default profile: segmentation always has
// a rule set to run with, callers never have to handle a miss.
func Get(name string) *Profile {
	p, ok := builtins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return builtins[DefaultName]
	}
	return p
}

// Lookup resolves a profile by name without the default fallback. It reports
// whether the name is known; validation surfaces use it to reject typos that
// Get would silently map to default.
func Lookup(name string) (*Profile, bool) {
	p, ok := builtins[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names returns the built-in profile names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a JSON-friendly view of every profile for discovery
// endpoints.
func Describe() []map[string]any {
	out := make([]map[string]any, 0, len(builtins))
	for _, name := range Names() {
		p := builtins[name]
		d := map[string]any{
			"name":                  p.Name,
			"break_on_blank":        p.Scene.BreakOnBlank,
			"min_scene_chars":       p.Scene.MinSceneChars,
			"heading_consumes_line": p.Scene.HeadingConsumesLine,
			"window_chars":          p.Chunk.WindowChars,
			"stride_chars":          p.Chunk.StrideChars,
		}
		if p.Scene.HeadingRegex != nil {
			d["heading_regex"] = p.Scene.HeadingRegex.String()
		}
		if n := len(p.Scene.ExtraSplitRegexes); n > 0 {
			pats := make([]string, n)
			for i, re := range p.Scene.ExtraSplitRegexes {
				pats[i] = re.String()
			}
			d["extra_split_regexes"] = pats
		}
		if p.Scene.FenceOpenRegex != nil {
			d["fenced_code"] = true
		}
		out = append(out, d)
	}
	return out
}
