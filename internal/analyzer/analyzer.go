// Package analyzer measures how much a generated plan draws on the resources
// retrieved for it.
package analyzer

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"edurag/internal/domain"
)

// Qualitative similarity levels.
const (
	LevelVeryHigh  = "very high"
	LevelHigh      = "high"
	LevelMedium    = "medium"
	LevelMediumLow = "medium-low"
	LevelLow       = "low"
)

const maxPerModule = 5

// Levels holds the lower bound of each similarity level.
type Levels struct {
	VeryHigh  float64
	High      float64
	Medium    float64
	MediumLow float64
}

// Config tunes the analyzer.
type Config struct {
	// UsageThreshold is the similarity a matched resource needs to count as
	// highly relevant.
	UsageThreshold float64
	// HighConfidence admits a resource as highly relevant on similarity alone.
	HighConfidence float64
	Levels         Levels
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		UsageThreshold: 0.48,
		HighConfidence: 0.60,
		Levels:         Levels{VeryHigh: 0.75, High: 0.60, Medium: 0.48, MediumLow: 0.30},
	}
}

// Analyzer compares plans with retrieval results.
type Analyzer struct {
	cfg Config
}

// New creates an Analyzer.
func New(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Level buckets a similarity score.
func (a *Analyzer) Level(sim float64) string {
	l := a.cfg.Levels
	switch {
	case sim >= l.VeryHigh:
		return LevelVeryHigh
	case sim >= l.High:
		return LevelHigh
	case sim >= l.Medium:
		return LevelMedium
	case sim >= l.MediumLow:
		return LevelMediumLow
	default:
		return LevelLow
	}
}

// Analyze builds an impact report with the configured usage threshold.
func (a *Analyzer) Analyze(plan *domain.Plan, r domain.Retrieval) domain.ImpactReport {
	return a.AnalyzeWithThreshold(plan, r, a.cfg.UsageThreshold)
}

// resource is one unique retrieved library document.
type resource struct {
	domain.ResourceMatch
	keywords []string
}

// AnalyzeWithThreshold is Analyze with an explicit usage threshold. A nil
// plan or a plan with missing sections yields a zero-valued report.
func (a *Analyzer) AnalyzeWithThreshold(plan *domain.Plan, r domain.Retrieval, threshold float64) domain.ImpactReport {
	if plan == nil {
		plan = &domain.Plan{}
	}
	report := domain.ImpactReport{
		UsedResources:  []domain.ResourceMatch{},
		HighlyRelevant: []domain.ResourceMatch{},
		PerModule:      []domain.ModuleImpact{},
		Evidence:       []string{},
	}

	resources := a.uniqueResources(r.General())
	report.TotalRetrieved = len(resources)

	haystack := planText(plan)
	declared := plan.Resources.All()
	declaredWords := make([]map[string]struct{}, len(declared))
	for i, d := range declared {
		declaredWords[i] = wordSet(d.Title)
		if d.IsReal() {
			report.VerifiedResources++
		}
	}
	report.DeclaredResources = len(declared)

	var simSum float64
	for i := range resources {
		res := &resources[i]
		simSum += res.Similarity

		if kw, ok := mentioned(res.keywords, haystack); ok {
			res.Matched = true
			report.Evidence = append(report.Evidence,
				fmt.Sprintf("resource %q mentioned in the plan (keyword %q)", res.Filename, kw))
		} else if j := overlapsDeclared(res.keywords, declaredWords); j >= 0 {
			res.Matched = true
			report.Evidence = append(report.Evidence,
				fmt.Sprintf("resource %q matches declared title %q", res.Filename, declared[j].Title))
		}

		if res.Matched {
			report.UsedResources = append(report.UsedResources, res.ResourceMatch)
		}
		if (res.Matched && res.Similarity >= threshold) || res.Similarity >= a.cfg.HighConfidence {
			report.HighlyRelevant = append(report.HighlyRelevant, res.ResourceMatch)
		}
	}
	report.ResourcesUsed = len(report.UsedResources)
	if len(resources) > 0 {
		report.SimilarityAverage = simSum / float64(len(resources))
	}

	if plan.Resources != nil {
		report.UsageSource = domain.UsageFromDeclared
		if report.DeclaredResources > 0 {
			report.UsagePercentage = round1(float64(report.VerifiedResources) / float64(report.DeclaredResources) * 100)
		}
	} else {
		report.UsageSource = domain.UsageFromRetrieved
		if len(resources) > 0 {
			report.UsagePercentage = round1(float64(report.ResourcesUsed) / float64(len(resources)) * 100)
		}
	}

	for i, m := range plan.Modules {
		impact := domain.ModuleImpact{
			ModuleID:         m.ModuleID(i),
			ModuleName:       m.Name,
			RelatedResources: []domain.ResourceMatch{},
		}
		text := strings.ToLower(m.Name + " " + m.Objective)
		for _, res := range resources {
			if len(impact.RelatedResources) == maxPerModule {
				break
			}
			if _, ok := mentioned(res.keywords, text); ok {
				impact.RelatedResources = append(impact.RelatedResources, res.ResourceMatch)
			}
		}
		if len(impact.RelatedResources) > 0 {
			report.ModulesWithResources++
		}
		report.PerModule = append(report.PerModule, impact)
	}

	return report
}

// uniqueResources collapses chunks of the same document, keeping the best
// similarity, and orders the result by similarity.
func (a *Analyzer) uniqueResources(results []domain.RetrievalResult) []resource {
	index := make(map[string]int)
	var out []resource
	for _, r := range results {
		if r.Chunk.Filename == "" {
			continue
		}
		key := r.Chunk.DocumentType.String() + "/" + r.Chunk.Filename
		if i, ok := index[key]; ok {
			if r.Similarity > out[i].Similarity {
				out[i].Similarity = r.Similarity
			}
			continue
		}
		index[key] = len(out)
		title := CleanName(r.Chunk.Filename)
		out = append(out, resource{
			ResourceMatch: domain.ResourceMatch{
				Title:      title,
				Filename:   r.Chunk.Filename,
				Type:       r.Chunk.DocumentType,
				Similarity: r.Similarity,
			},
			keywords: Keywords(title, r.Chunk.DocumentType),
		})
	}
	for i := range out {
		out[i].Level = a.Level(out[i].Similarity)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Filename < out[j].Filename
	})
	return out
}

// CleanName turns a library filename into a lowercase title.
func CleanName(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(strings.ToLower(base)), " ")
}

// Keywords returns the leading words of a clean name: four for songs, whose
// titles tend to start with filler, three otherwise.
func Keywords(cleanName string, t domain.DocumentType) []string {
	n := 3
	if t == domain.DocumentSong {
		n = 4
	}
	words := strings.Fields(cleanName)
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func significant(word string) bool {
	return utf8.RuneCountInString(word) > 3
}

func mentioned(keywords []string, text string) (string, bool) {
	for _, kw := range keywords {
		if significant(kw) && strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// titleStopwords are articles and connectors that never identify a title.
var titleStopwords = map[string]struct{}{
	"el": {}, "la": {}, "los": {}, "las": {}, "lo": {}, "un": {}, "una": {},
	"de": {}, "del": {}, "y": {}, "e": {}, "a": {}, "al": {}, "en": {},
	"the": {}, "of": {}, "and": {},
}

// overlapsDeclared matches short titles too ("el sol"), so unlike mentioned
// it keeps every keyword that is not a stopword.
func overlapsDeclared(keywords []string, declared []map[string]struct{}) int {
	for i, words := range declared {
		for _, kw := range keywords {
			if _, stop := titleStopwords[kw]; stop {
				continue
			}
			if _, ok := words[kw]; ok {
				return i
			}
		}
	}
	return -1
}

func wordSet(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// planText flattens the free text of a plan into one lowercase string.
func planText(p *domain.Plan) string {
	var parts []string
	add := func(s ...string) {
		for _, v := range s {
			if v != "" {
				parts = append(parts, v)
			}
		}
	}
	addActivity := func(a *domain.Activity) {
		if a != nil {
			add(a.Name, a.Description)
		}
	}

	add(p.Name)
	for _, m := range p.Modules {
		add(m.Name, m.Objective)
		addActivity(m.StartActivity)
		for i := range m.Activities {
			addActivity(&m.Activities[i])
		}
		addActivity(m.ClosingActivity)
	}
	for _, d := range p.Resources.All() {
		add(d.Title, d.Description)
	}
	return strings.ToLower(strings.Join(parts, "\n"))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
