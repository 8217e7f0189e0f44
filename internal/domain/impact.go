package domain

// Usage percentage sources.
const (
	UsageFromDeclared  = "declared"
	UsageFromRetrieved = "retrieved"
)

// ResourceMatch is a retrieved library resource as seen by the impact analyzer.
type ResourceMatch struct {
	Title      string       `json:"title"`
	Filename   string       `json:"filename"`
	Type       DocumentType `json:"type"`
	Similarity float64      `json:"similarity"`
	Level      string       `json:"level"`
	Matched    bool         `json:"matched"`
}

// ModuleImpact lists the resources related to one plan module.
type ModuleImpact struct {
	ModuleID         string          `json:"module_id"`
	ModuleName       string          `json:"module_name"`
	RelatedResources []ResourceMatch `json:"related_resources"`
}

// ImpactReport measures how much a plan draws on retrieved material.
type ImpactReport struct {
	TotalRetrieved       int             `json:"total_retrieved"`
	ResourcesUsed        int             `json:"resources_used"`
	UsagePercentage      float64         `json:"usage_percentage"`
	UsageSource          string          `json:"usage_source"`
	SimilarityAverage    float64         `json:"similarity_average"`
	DeclaredResources    int             `json:"declared_resources"`
	VerifiedResources    int             `json:"verified_resources"`
	ModulesWithResources int             `json:"modules_with_resources"`
	UsedResources        []ResourceMatch `json:"used_resources"`
	HighlyRelevant       []ResourceMatch `json:"highly_relevant"`
	PerModule            []ModuleImpact  `json:"per_module"`
	Evidence             []string        `json:"evidence"`
}
