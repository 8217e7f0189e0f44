// Package prompt turns retrieval results into the context block handed to the
// plan generator.
package prompt

import (
	"fmt"
	"strings"

	"edurag/internal/domain"
)

// Defaults bounding the rendered context.
const (
	DefaultMaxPerCategory  = 5
	DefaultStoryPreview    = 500
	DefaultSongPreview     = 500
	DefaultActivityPreview = 800
)

type section struct {
	typ    domain.DocumentType
	header string
}

var sections = []section{
	{domain.DocumentStory, "RECOMMENDED STORIES"},
	{domain.DocumentSong, "RECOMMENDED SONGS"},
	{domain.DocumentActivity, "SUGGESTED ACTIVITIES"},
}

// Builder renders a bounded context block.
type Builder struct {
	MaxPerCategory int
	Preview        map[domain.DocumentType]int
}

// NewBuilder returns a Builder with the default caps.
func NewBuilder() *Builder {
	return &Builder{
		MaxPerCategory: DefaultMaxPerCategory,
		Preview: map[domain.DocumentType]int{
			domain.DocumentStory:    DefaultStoryPreview,
			domain.DocumentSong:     DefaultSongPreview,
			domain.DocumentActivity: DefaultActivityPreview,
		},
	}
}

// Build renders one section per non-empty library category, keeping the
// retrieval order. It returns "" when nothing was retrieved.
func (b *Builder) Build(r domain.Retrieval) string {
	var sb strings.Builder
	for _, s := range sections {
		results := r.ByType(s.typ)
		if len(results) == 0 {
			continue
		}
		if len(results) > b.MaxPerCategory {
			results = results[:b.MaxPerCategory]
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "=== %s ===\n", s.header)
		for i, res := range results {
			fmt.Fprintf(&sb, "\n%d. %s (similarity: %.1f%%)\n", i+1, res.Chunk.Filename, res.Similarity*100)
			fmt.Fprintf(&sb, "%s\n", Truncate(res.Chunk.Text, b.Preview[s.typ]))
		}
	}
	return sb.String()
}

// Truncate cuts text to at most limit runes, marking the cut with "...".
// A non-positive limit leaves text untouched.
func Truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

const instructions = `
IMPORTANT INSTRUCTIONS FOR USING THE RESOURCES ABOVE:
1. Prioritize the stories, songs and activities listed above when designing each module.
2. When you use one of them, cite it by its exact title as shown in the list.
3. Mark every cited library resource as "real" in the resources section.
4. Adapt the suggested activities to the objectives of each module.
5. Only invent new resources when none of the listed ones fits, and mark those as "creative".
`

// Enrich appends the context block and usage instructions to the plan text.
// Without context the plan text is returned unchanged.
func Enrich(planText, ragContext string) string {
	if strings.TrimSpace(ragContext) == "" {
		return planText
	}
	var sb strings.Builder
	sb.WriteString(planText)
	sb.WriteString("\n\n--- PEDAGOGICAL RESOURCES FROM THE LIBRARY ---\n\n")
	sb.WriteString(ragContext)
	sb.WriteString(instructions)
	return sb.String()
}
