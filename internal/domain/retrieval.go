package domain

// RetrievalResult is a chunk returned from a similarity query.
// Similarity is 1 - cosine distance, clamped to [0, 1].
type RetrievalResult struct {
	Chunk      Chunk
	Similarity float64
}

// Retrieval is the categorized output of one retrieval request.
type Retrieval struct {
	Stories        []RetrievalResult
	Songs          []RetrievalResult
	Activities     []RetrievalResult
	UserPlan       []RetrievalResult
	UserDiagnostic []RetrievalResult
}

// NewRetrieval returns a Retrieval whose buckets are all non-nil.
func NewRetrieval() Retrieval {
	return Retrieval{
		Stories:        []RetrievalResult{},
		Songs:          []RetrievalResult{},
		Activities:     []RetrievalResult{},
		UserPlan:       []RetrievalResult{},
		UserDiagnostic: []RetrievalResult{},
	}
}

// ByType returns the bucket that holds results of type t.
func (r Retrieval) ByType(t DocumentType) []RetrievalResult {
	switch t {
	case DocumentStory:
		return r.Stories
	case DocumentSong:
		return r.Songs
	case DocumentActivity:
		return r.Activities
	case DocumentPlan:
		return r.UserPlan
	case DocumentDiagnostic:
		return r.UserDiagnostic
	}
	return nil
}

// Set replaces the bucket for type t.
func (r *Retrieval) Set(t DocumentType, results []RetrievalResult) {
	if results == nil {
		results = []RetrievalResult{}
	}
	switch t {
	case DocumentStory:
		r.Stories = results
	case DocumentSong:
		r.Songs = results
	case DocumentActivity:
		r.Activities = results
	case DocumentPlan:
		r.UserPlan = results
	case DocumentDiagnostic:
		r.UserDiagnostic = results
	}
}

// General returns the library results in story, song, activity order.
func (r Retrieval) General() []RetrievalResult {
	out := make([]RetrievalResult, 0, len(r.Stories)+len(r.Songs)+len(r.Activities))
	out = append(out, r.Stories...)
	out = append(out, r.Songs...)
	out = append(out, r.Activities...)
	return out
}

// Total counts the library results.
func (r Retrieval) Total() int {
	return len(r.Stories) + len(r.Songs) + len(r.Activities)
}

// Empty reports whether no library result was retrieved.
func (r Retrieval) Empty() bool { return r.Total() == 0 }
