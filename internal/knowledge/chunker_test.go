package knowledge

import (
	"strings"
	"testing"
)

func TestMarkdownChunker_SplitsOnHeadings(t *testing.T) {
	input := `# Title

Hello world
Second line

## Details

More text
`
	chunks, err := MarkdownChunker{}.Chunk(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}

	want := []string{"Hello world\nSecond line", "More text"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %q", len(chunks), len(want), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestMarkdownChunker_RewritesLinksToReferences(t *testing.T) {
	input := `# Links

See [docs](https://example.com/docs) and [code](https://example.com/code).
`
	chunks, err := MarkdownChunker{}.Chunk(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}

	want := "See [docs][1] and [code][2].\n\n[1]: https://example.com/docs\n[2]: https://example.com/code"
	if chunks[0] != want {
		t.Errorf("chunk = %q, want %q", chunks[0], want)
	}
}

func TestMarkdownChunker_RewritesImages(t *testing.T) {
	input := `# Images

![logo](https://example.com/logo.png)
![](https://example.com/bare.png)
`
	chunks, err := MarkdownChunker{}.Chunk(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}

	if !strings.Contains(chunks[0], "![logo][1]") {
		t.Errorf("chunk missing rewritten image: %q", chunks[0])
	}
	if !strings.Contains(chunks[0], "![][2]") {
		t.Errorf("chunk missing rewritten bare image: %q", chunks[0])
	}
	if !strings.Contains(chunks[0], "[1]: https://example.com/logo.png") {
		t.Errorf("chunk missing reference list: %q", chunks[0])
	}
}

func TestMarkdownChunker_ContentBeforeFirstHeading(t *testing.T) {
	input := "Preamble text\n\n# Section\n\nBody\n"

	chunks, err := MarkdownChunker{}.Chunk(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}

	want := []string{"Preamble text", "Body"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %q", len(chunks), len(want), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestMarkdownChunker_EmptyInput(t *testing.T) {
	chunks, err := MarkdownChunker{}.Chunk(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks for empty input, want 0", len(chunks))
	}
}

func TestMarkdownChunker_EmptySectionYieldsEmptyChunk(t *testing.T) {
	input := "# First\n# Second\nBody\n"

	chunks, err := MarkdownChunker{}.Chunk(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %q", len(chunks), chunks)
	}
	if chunks[0] != "" {
		t.Errorf("chunk[0] = %q, want empty", chunks[0])
	}
	if chunks[1] != "Body" {
		t.Errorf("chunk[1] = %q, want Body", chunks[1])
	}
}
