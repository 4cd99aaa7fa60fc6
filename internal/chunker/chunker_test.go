package chunker

import (
	"testing"

	"github.com/ljramones/lore-ingestor/internal/profile"
	"github.com/ljramones/lore-ingestor/internal/segment"
)

// wantCount is the expected chunk count for a scene of length l: one chunk
// if it fits the window, otherwise ceil((l-w)/s)+1.
func wantCount(l, w, s int) int {
	if l <= w {
		return 1
	}
	return (l-w+s-1)/s + 1
}

func TestChunkCountFormula(t *testing.T) {
	cases := []struct {
		name   string
		length int
		window int
		stride int
	}{
		{"fits exactly", 512, 512, 384},
		{"fits with room", 100, 512, 384},
		{"two windows", 600, 512, 384},
		{"many overlapping", 2000, 512, 384},
		{"stride equals window", 1000, 100, 100},
		{"stride larger than window", 1000, 100, 150},
		{"single byte", 1, 512, 384},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scenes := []segment.Span{{Start: 0, End: tc.length}}
			chunks := Chunk(scenes, profile.Get("default"), tc.window, tc.stride)

			want := wantCount(tc.length, tc.window, tc.stride)
			if len(chunks) != want {
				t.Fatalf("got %d chunks, want %d", len(chunks), want)
			}
			// Every chunk stays inside the scene; the last one reaches its end.
			for i, c := range chunks {
				if c.Start < 0 || c.End > tc.length || c.Start >= c.End {
					t.Errorf("chunk %d out of range: %+v", i, c)
				}
				if c.Len() > tc.window {
					t.Errorf("chunk %d longer than window: %+v", i, c)
				}
			}
			if last := chunks[len(chunks)-1]; last.End != tc.length {
				t.Errorf("last chunk ends at %d, want %d", last.End, tc.length)
			}
		})
	}
}

func TestOverlapAndGaps(t *testing.T) {
	t.Run("stride under window overlaps", func(t *testing.T) {
		chunks := Chunk([]segment.Span{{Start: 0, End: 30}}, profile.Get("default"), 20, 10)
		if len(chunks) != 2 {
			t.Fatalf("got %v, want 2 chunks", chunks)
		}
		if chunks[0].End <= chunks[1].Start {
			t.Errorf("expected overlap: %v", chunks)
		}
	})

	t.Run("stride over window leaves gaps", func(t *testing.T) {
		chunks := Chunk([]segment.Span{{Start: 0, End: 50}}, profile.Get("default"), 10, 20)
		if len(chunks) != 3 {
			t.Fatalf("got %v, want 3 chunks", chunks)
		}
		if chunks[0].End >= chunks[1].Start {
			t.Errorf("expected a gap: %v", chunks)
		}
	})
}

func TestWindowsDoNotCrossScenes(t *testing.T) {
	scenes := []segment.Span{{Start: 0, End: 25}, {Start: 30, End: 55}}
	chunks := Chunk(scenes, profile.Get("default"), 20, 15)

	for i, c := range chunks {
		inFirst := c.Start >= 0 && c.End <= 25
		inSecond := c.Start >= 30 && c.End <= 55
		if !inFirst && !inSecond {
			t.Errorf("chunk %d crosses a scene boundary: %+v", i, c)
		}
	}
	// Scene attribution follows the source scene.
	for i, c := range chunks {
		if c.Start < 25 && c.SceneIdx != 0 {
			t.Errorf("chunk %d has SceneIdx %d, want 0", i, c.SceneIdx)
		}
		if c.Start >= 30 && c.SceneIdx != 1 {
			t.Errorf("chunk %d has SceneIdx %d, want 1", i, c.SceneIdx)
		}
	}
}

func TestZeroOverridesUseProfile(t *testing.T) {
	p := profile.Get("default") // window 512, stride 384
	scenes := []segment.Span{{Start: 0, End: 1000}}
	chunks := Chunk(scenes, p, 0, 0)

	want := wantCount(1000, 512, 384)
	if len(chunks) != want {
		t.Fatalf("got %d chunks, want %d from profile defaults", len(chunks), want)
	}
	if chunks[0].Len() != 512 {
		t.Errorf("first chunk length %d, want the profile window 512", chunks[0].Len())
	}
}

func TestNegativeWindowFallsBackToSingleChunk(t *testing.T) {
	scenes := []segment.Span{{Start: 5, End: 40}, {Start: 45, End: 90}}
	chunks := Chunk(scenes, profile.Get("default"), -1, 0)

	if len(chunks) != 1 {
		t.Fatalf("got %v, want the single fallback chunk", chunks)
	}
	if chunks[0].Start != 5 || chunks[0].End != 40 || chunks[0].SceneIdx != 0 {
		t.Errorf("fallback chunk = %+v, want first scene's span", chunks[0])
	}
}

func TestNegativeStrideStillAdvances(t *testing.T) {
	chunks := Chunk([]segment.Span{{Start: 0, End: 100}}, profile.Get("default"), 10, -3)

	// Lifted to stride == window: non-overlapping tiling.
	if len(chunks) != 10 {
		t.Fatalf("got %d chunks, want 10", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Start != chunks[i-1].End {
			t.Errorf("chunks %d/%d not contiguous: %v %v", i-1, i, chunks[i-1], chunks[i])
		}
	}
}

func TestEmptySceneListYieldsNoChunks(t *testing.T) {
	if chunks := Chunk(nil, profile.Get("default"), 0, 0); len(chunks) != 0 {
		t.Fatalf("got %v, want none", chunks)
	}
}

func TestEmptySceneSpanYieldsFallback(t *testing.T) {
	// An empty document segments to a single empty scene; chunking it must
	// still produce one (empty) chunk.
	chunks := Chunk([]segment.Span{{Start: 0, End: 0}}, profile.Get("default"), 0, 0)
	if len(chunks) != 1 || chunks[0].Start != 0 || chunks[0].End != 0 {
		t.Fatalf("got %v, want one empty chunk", chunks)
	}
}
