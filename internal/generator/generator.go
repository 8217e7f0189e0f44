// Package generator is the boundary to the external plan generation service.
// Backends return a parsed plan or one of the typed failures below; no output
// repair is attempted.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/domain"
)

var (
	// ErrMalformedResponse means the service answered with something that is not a plan document.
	ErrMalformedResponse = goerr.New("malformed generator response")
	// ErrMissingFields means the document parsed but lacks a name or modules.
	ErrMissingFields = goerr.New("generated plan is missing required fields")
	// ErrUpstreamTimeout means the service did not answer within the deadline.
	ErrUpstreamTimeout = goerr.New("generator upstream timeout")
	// ErrDisabled is returned by the generator used when no backend is configured.
	ErrDisabled = goerr.New("plan generation is disabled")
)

// Request is one generation call.
type Request struct {
	// Prompt is the enriched plan text.
	Prompt         string
	DiagnosticText string
}

// Generator drafts a structured plan.
type Generator interface {
	Generate(ctx context.Context, req Request) (*domain.Plan, error)
}

// TextGenerator is a raw LLM backend returning the JSON text of a plan.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// PlanGenerator turns a TextGenerator into a Generator.
type PlanGenerator struct {
	backend TextGenerator
	timeout time.Duration
}

var _ Generator = (*PlanGenerator)(nil)

// New creates a PlanGenerator. A zero timeout leaves the deadline to the caller.
func New(backend TextGenerator, timeout time.Duration) *PlanGenerator {
	return &PlanGenerator{backend: backend, timeout: timeout}
}

func (g *PlanGenerator) Generate(ctx context.Context, req Request) (*domain.Plan, error) {
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	text, err := g.backend.GenerateText(callCtx, SystemPrompt, UserPrompt(req))
	if err != nil {
		// Only our own deadline is an upstream timeout; the caller's is propagated as is.
		if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil) {
			return nil, goerr.Wrap(ErrUpstreamTimeout, "generation timed out", goerr.V("timeout", g.timeout.String()))
		}
		return nil, goerr.Wrap(err, "generation failed")
	}
	return ParsePlan(text)
}

// ParsePlan decodes the JSON text of a plan and checks its required fields.
func ParsePlan(text string) (*domain.Plan, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, goerr.Wrap(ErrMalformedResponse, "empty response")
	}
	var plan domain.Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return nil, goerr.Wrap(ErrMalformedResponse, "failed to decode plan", goerr.V("error", err.Error()), goerr.V("response", preview(text)))
	}
	var missing []string
	if strings.TrimSpace(plan.Name) == "" {
		missing = append(missing, "name")
	}
	if len(plan.Modules) == 0 {
		missing = append(missing, "modules")
	}
	if len(missing) > 0 {
		return nil, goerr.Wrap(ErrMissingFields, "plan is incomplete", goerr.V("missing", missing))
	}
	return &plan, nil
}

func preview(s string) string {
	const limit = 200
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

// Disabled is the Generator used when no backend is configured.
type Disabled struct{}

func (Disabled) Generate(context.Context, Request) (*domain.Plan, error) {
	return nil, goerr.Wrap(ErrDisabled, "configure generator.type to draft plans")
}
