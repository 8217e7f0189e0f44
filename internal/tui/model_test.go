package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/m-mizutani/gt"

	"edurag/internal/domain"
	"edurag/internal/retriever"
)

type fakePort struct {
	queries []retriever.Query
	result  domain.Retrieval
	err     error
}

func (f *fakePort) Retrieve(_ context.Context, q retriever.Query) (domain.Retrieval, error) {
	f.queries = append(f.queries, q)
	return f.result, f.err
}

func (f *fakePort) Level(sim float64) string {
	if sim >= 0.6 {
		return "high"
	}
	return "low"
}

func result(name string, typ domain.DocumentType, sim float64) domain.RetrievalResult {
	return domain.RetrievalResult{
		Chunk:      domain.Chunk{Text: "Había una vez un patito. Nadie lo quería.", Filename: name, DocumentType: typ},
		Similarity: sim,
	}
}

func enter(t *testing.T, m Model, q string) Model {
	t.Helper()
	m.input.SetValue(q)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model)
}

func TestSearchShowsCategorizedResults(t *testing.T) {
	port := &fakePort{result: domain.NewRetrieval()}
	port.result.Stories = []domain.RetrievalResult{result("El_patito_feo.txt", domain.DocumentStory, 0.72)}
	port.result.Songs = []domain.RetrievalResult{result("Los_pollitos.txt", domain.DocumentSong, 0.31)}

	m := New(context.Background(), port, "ana@example.com", 6, "4 entries")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = enter(t, next.(Model), "patito")

	gt.Array(t, port.queries).Length(1).Required()
	gt.Value(t, port.queries[0]).Equal(retriever.Query{PlanText: "patito", UserID: "ana@example.com", NTotal: 6})
	gt.String(t, m.status).Contains("1 stories, 1 songs, 0 activities")

	view := m.renderCurrentResult()
	gt.String(t, view).Contains("El_patito_feo.txt")
	gt.String(t, view).Contains("similarity 72.0%  high")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	gt.String(t, m.renderCurrentResult()).Contains("Los_pollitos.txt")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	gt.String(t, m.renderCurrentResult()).Contains("El_patito_feo.txt")
}

func TestSearchError(t *testing.T) {
	port := &fakePort{err: errors.New("index closed")}
	m := New(context.Background(), port, "", 15, "")
	m = enter(t, m, "tema")
	gt.String(t, m.status).Contains("index closed")
	gt.Value(t, m.renderCurrentResult()).Equal("No results yet.")
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("La tortuga corre. El patito nada.", "patito")
	gt.Bool(t, strings.HasPrefix(out, "La tortuga corre.")).True()
	gt.String(t, out).Contains("El patito nada.")
}
