package summarizer_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"edurag/internal/summarizer"
)

func TestSummarizeKeepsOriginalOrder(t *testing.T) {
	s := summarizer.NewFrequencySummarizer()
	text := "El patito nació diferente. Hacía sol en la granja. " +
		"Los otros patos se burlaban del patito. Al final el patito se convirtió en cisne."

	out, err := s.Summarize(text, 2)
	gt.NoError(t, err).Required()
	gt.Value(t, out).Equal("El patito nació diferente. Los otros patos se burlaban del patito.")
	gt.Bool(t, strings.Contains(out, "Hacía sol")).False()
}

func TestSummarizeWithoutPunctuation(t *testing.T) {
	s := summarizer.NewFrequencySummarizer()
	out, err := s.Summarize("  los pollitos dicen pío pío  ", 3)
	gt.NoError(t, err).Required()
	gt.Value(t, out).Equal("los pollitos dicen pío pío")
}

func TestSummarizeCapsSentences(t *testing.T) {
	s := summarizer.NewFrequencySummarizer()
	out, err := s.Summarize("Uno. Dos. Tres. Cuatro.", 0)
	gt.NoError(t, err).Required()
	gt.Value(t, strings.Count(out, ".")).Equal(summarizer.DefaultMaxSentences)
}
