package generator

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
)

// Gemini generates plan JSON through a gollem LLM client.
type Gemini struct {
	client gollem.LLMClient
}

var _ TextGenerator = (*Gemini)(nil)

// NewGemini wraps a gollem client, usually from gollem/llm/gemini.
func NewGemini(client gollem.LLMClient) *Gemini {
	return &Gemini{client: client}
}

func (g *Gemini) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	session, err := g.client.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(PlanSchema()),
		gollem.WithSessionSystemPrompt(systemPrompt),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(userPrompt))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate plan from LLM")
	}
	if resp == nil || len(resp.Texts) == 0 {
		return "", goerr.Wrap(ErrMalformedResponse, "LLM returned no text")
	}
	return resp.Texts[0], nil
}

func activitySchema(description string) *gollem.Parameter {
	return &gollem.Parameter{
		Type:        gollem.TypeObject,
		Description: description,
		Properties: map[string]*gollem.Parameter{
			"name":        {Type: gollem.TypeString, Description: "Short activity title", Required: true},
			"kind":        {Type: gollem.TypeString, Description: "Activity kind, e.g. game, reading, song"},
			"description": {Type: gollem.TypeString, Description: "What the children do, step by step", Required: true},
		},
	}
}

func resourceListSchema(description string) *gollem.Parameter {
	return &gollem.Parameter{
		Type:        gollem.TypeArray,
		Description: description,
		Items: &gollem.Parameter{
			Type: gollem.TypeObject,
			Properties: map[string]*gollem.Parameter{
				"title":       {Type: gollem.TypeString, Description: "Exact title of the resource", Required: true},
				"author":      {Type: gollem.TypeString, Description: "Author, when known"},
				"kind":        {Type: gollem.TypeString, Description: `"real" for existing works, "creative" for invented ones`, Required: true},
				"access":      {Type: gollem.TypeString, Description: "Where to find it"},
				"description": {Type: gollem.TypeString, Description: "How it is used in the plan"},
			},
		},
	}
}

// PlanSchema is the response schema matching domain.Plan.
func PlanSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "TeachingPlan",
		Description: "A teaching plan split into modules",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"name": {Type: gollem.TypeString, Description: "Plan title", Required: true},
			"modules": {
				Type:        gollem.TypeArray,
				Description: "Ordered teaching modules",
				Required:    true,
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"number":           {Type: gollem.TypeInteger, Description: "1-based module number", Required: true},
						"name":             {Type: gollem.TypeString, Description: "Module title", Required: true},
						"formative_field":  {Type: gollem.TypeString, Description: "Formative field the module belongs to"},
						"objective":        {Type: gollem.TypeString, Description: "Learning objective", Required: true},
						"start_activity":   activitySchema("Opening activity"),
						"activities":       {Type: gollem.TypeArray, Description: "Development activities", Items: activitySchema("Development activity")},
						"closing_activity": activitySchema("Closing activity"),
					},
				},
			},
			"resources": {
				Type:        gollem.TypeObject,
				Description: "Resources recommended by the plan",
				Properties: map[string]*gollem.Parameter{
					"stories": resourceListSchema("Recommended stories"),
					"songs":   resourceListSchema("Recommended songs"),
					"digital": resourceListSchema("Recommended digital resources"),
				},
			},
		},
	}
}
