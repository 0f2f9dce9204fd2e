package knowledge

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	sectionRe = regexp.MustCompile(`^(#{1,6})\s+(.*)`)
	linkRe    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	imageRe   = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
)

// MarkdownChunker splits markdown into one chunk per ATX heading section.
// Heading lines and blank lines are dropped; inline links and images are
// rewritten to numbered reference style with the reference list appended
// to the chunk, so URLs do not pollute the prose the questions are
// synthesized from.
type MarkdownChunker struct{}

// Chunk reads markdown from r and returns its section chunks.
func (MarkdownChunker) Chunk(r io.Reader) ([]string, error) {
	var (
		chunks []string
		lines  []string
		refs   []string
		open   bool
	)

	flush := func() {
		if !open {
			return
		}
		chunk := strings.Join(lines, "\n")
		if len(refs) > 0 {
			chunk += "\n\n" + strings.Join(refs, "\n")
		}
		chunks = append(chunks, chunk)
		lines, refs = nil, nil
	}

	rewrite := func(line string) string {
		// Links first: the bracket pattern also covers the trailing part
		// of an image, so a single pass renumbers both forms.
		line = linkRe.ReplaceAllStringFunc(line, func(m string) string {
			parts := linkRe.FindStringSubmatch(m)
			refs = append(refs, fmt.Sprintf("[%d]: %s", len(refs)+1, parts[2]))
			return fmt.Sprintf("[%s][%d]", parts[1], len(refs))
		})
		return imageRe.ReplaceAllStringFunc(line, func(m string) string {
			parts := imageRe.FindStringSubmatch(m)
			refs = append(refs, fmt.Sprintf("[%d]: %s", len(refs)+1, parts[2]))
			return fmt.Sprintf("![%s][%d]", parts[1], len(refs))
		})
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if sectionRe.MatchString(line) {
			flush()
			open = true
			continue
		}
		if !open {
			// Content before the first heading forms its own chunk.
			open = true
		}
		lines = append(lines, rewrite(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading markdown: %w", err)
	}
	flush()

	return chunks, nil
}
