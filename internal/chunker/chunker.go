// Package chunker slides a fixed window across scene spans to produce chunk
// spans.
//
// Windows never cross a scene boundary. Stride smaller than the window
// yields overlapping chunks; stride larger than the window leaves gaps.
// Both are legal.
package chunker

import (
	"github.com/ljramones/lore-ingestor/internal/profile"
	"github.com/ljramones/lore-ingestor/internal/segment"
)

// Span is one chunk window: a half-open [Start, End) byte range plus the
// index of the scene (in the segmentation order) it was cut from.
type Span struct {
	Start    int
	End      int
	SceneIdx int
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Chunk windows each scene with window/stride overrides, falling back to
// the profile's chunk rules when an override is zero. Chunk order is
// (scene, start); the global chunk index is the slice position.
//
// A non-positive resolved window produces no per-scene chunks; the
// degenerate-input fallback below then takes over. A non-positive resolved
// stride is lifted to the window so the scan always advances.
func Chunk(scenes []segment.Span, p *profile.Profile, windowChars, strideChars int) []Span {
	w := windowChars
	if w == 0 {
		w = p.Chunk.WindowChars
	}
	s := strideChars
	if s == 0 {
		s = p.Chunk.StrideChars
	}
	if s <= 0 {
		s = w
	}

	var chunks []Span
	for i, sc := range scenes {
		if w <= 0 {
			break
		}
		start := sc.Start
		for start < sc.End {
			end := start + w
			if end > sc.End {
				end = sc.End
			}
			if end <= start {
				break
			}
			chunks = append(chunks, Span{Start: start, End: end, SceneIdx: i})
			if end == sc.End {
				break
			}
			start += s
			if start > sc.End {
				start = sc.End
			}
		}
	}

	// Degenerate inputs still produce one chunk so every work with scenes
	// has at least one chunk row.
	if len(chunks) == 0 && len(scenes) > 0 {
		chunks = append(chunks, Span{Start: scenes[0].Start, End: scenes[0].End, SceneIdx: 0})
	}
	return chunks
}
