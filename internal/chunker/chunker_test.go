package chunker_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"edurag/internal/chunker"
	"edurag/internal/domain"
)

var storyMeta = domain.ChunkMeta{
	Filename:     "El_patito_feo.txt",
	DocumentType: domain.DocumentStory,
}

func newChunker(t *testing.T, size, overlap int) *chunker.Chunker {
	t.Helper()
	c, err := chunker.New(size, overlap)
	gt.NoError(t, err).Required()
	return c
}

func TestNewRejectsNonProgressingWindow(t *testing.T) {
	for _, tc := range []struct{ size, overlap int }{
		{100, 100},
		{100, 150},
		{0, 0},
		{100, -1},
	} {
		_, err := chunker.New(tc.size, tc.overlap)
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, chunker.ErrInvalidChunking)).True()
	}
}

func TestSplitWindows(t *testing.T) {
	c := newChunker(t, 1000, 200)
	text := strings.Repeat("a", 2500)

	chunks := c.Split(text, storyMeta)
	gt.Array(t, chunks).Length(3).Required()

	want := [][2]int{{0, 1000}, {800, 1800}, {1600, 2500}}
	for i, ch := range chunks {
		gt.Value(t, ch.ChunkID).Equal(i)
		gt.Value(t, ch.StartChar).Equal(want[i][0])
		gt.Value(t, ch.EndChar).Equal(want[i][1])
		gt.Value(t, ch.Filename).Equal("El_patito_feo.txt")
		gt.Value(t, ch.DocumentType).Equal(domain.DocumentStory)
		gt.Value(t, ch.OwnerScope).Equal(domain.GeneralScope)
	}
}

func TestSplitCoversTextWithOverlap(t *testing.T) {
	c := newChunker(t, 50, 10)
	var sb strings.Builder
	for i := 0; sb.Len() < 437; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	text := sb.String()

	chunks := c.Split(text, storyMeta)
	gt.Number(t, len(chunks)).GreaterOrEqual(2)
	gt.Value(t, chunks[0].StartChar).Equal(0)
	gt.Value(t, chunks[len(chunks)-1].EndChar).Equal(len(text))

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		gt.Value(t, prev.EndChar-cur.StartChar).Equal(10)
		gt.Number(t, cur.EndChar-cur.StartChar).LessOrEqual(50)
		gt.Value(t, cur.Text[:10]).Equal(prev.Text[len(prev.Text)-10:])
	}
}

func TestSplitShortText(t *testing.T) {
	c := newChunker(t, 1000, 200)
	text := strings.Repeat("b", 999)

	chunks := c.Split(text, storyMeta)
	gt.Array(t, chunks).Length(1).Required()
	gt.Value(t, chunks[0].Text).Equal(text)
	gt.Value(t, chunks[0].StartChar).Equal(0)
	gt.Value(t, chunks[0].EndChar).Equal(999)
}

func TestSplitEmpty(t *testing.T) {
	c := newChunker(t, 1000, 200)
	gt.Array(t, c.Split("", storyMeta)).Length(0)
	gt.Array(t, c.Split("   \n\t ", storyMeta)).Length(0)
}

func TestSplitIsDeterministic(t *testing.T) {
	c := newChunker(t, 120, 30)
	text := strings.Repeat("Había una vez un patito muy feo que vivía en la granja. ", 20)

	a := c.Split(text, storyMeta)
	b := c.Split(text, storyMeta)
	gt.Value(t, a).Equal(b)
}

func TestSplitCountsRunes(t *testing.T) {
	c := newChunker(t, 10, 2)
	text := strings.Repeat("ñ", 25)

	chunks := c.Split(text, storyMeta)
	gt.Array(t, chunks).Length(3).Required()
	gt.Value(t, chunks[0].Text).Equal(strings.Repeat("ñ", 10))
	gt.Value(t, chunks[2].EndChar).Equal(25)
}

func TestSplitCopiesOwnerScope(t *testing.T) {
	c := newChunker(t, 1000, 200)
	chunks := c.Split("Diagnóstico del grupo", domain.ChunkMeta{
		Filename:     "diag.txt",
		DocumentType: domain.DocumentDiagnostic,
		OwnerScope:   "maestra@example.com",
	})
	gt.Array(t, chunks).Length(1).Required()
	gt.Value(t, chunks[0].OwnerScope).Equal("maestra@example.com")
	gt.Value(t, chunks[0].ID()).Equal("maestra@example.com/diag.txt_0")
}
