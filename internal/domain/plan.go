package domain

import (
	"strconv"
	"strings"
)

// Plan is the structured document produced by the generation service.
// Every field is optional; consumers must tolerate zero values.
type Plan struct {
	Name      string           `json:"name"`
	Modules   []Module         `json:"modules"`
	Resources *ResourceSection `json:"resources,omitempty"`
}

// Module is one teaching unit of a plan.
type Module struct {
	Number          int        `json:"number"`
	Name            string     `json:"name"`
	FormativeField  string     `json:"formative_field,omitempty"`
	Objective       string     `json:"objective"`
	StartActivity   *Activity  `json:"start_activity,omitempty"`
	Activities      []Activity `json:"activities,omitempty"`
	ClosingActivity *Activity  `json:"closing_activity,omitempty"`
}

// Activity is a single classroom activity inside a module.
type Activity struct {
	Name        string `json:"name"`
	Kind        string `json:"kind,omitempty"`
	Description string `json:"description"`
}

// ResourceSection lists the resources a plan declares it uses.
type ResourceSection struct {
	Stories []DeclaredResource `json:"stories"`
	Songs   []DeclaredResource `json:"songs"`
	Digital []DeclaredResource `json:"digital"`
}

// Declared resource kinds.
const (
	ResourceReal     = "real"
	ResourceCreative = "creative"
)

// DeclaredResource is a resource entry the generator cites in a plan.
type DeclaredResource struct {
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	Kind        string `json:"kind"`
	Access      string `json:"access,omitempty"`
	Description string `json:"description,omitempty"`
}

// IsReal reports whether the resource is marked as an existing, verified work.
func (d DeclaredResource) IsReal() bool {
	switch strings.ToLower(strings.TrimSpace(d.Kind)) {
	case ResourceReal, "verified", "recurso real":
		return true
	}
	return false
}

// All returns every declared resource in stories, songs, digital order.
func (s *ResourceSection) All() []DeclaredResource {
	if s == nil {
		return nil
	}
	out := make([]DeclaredResource, 0, len(s.Stories)+len(s.Songs)+len(s.Digital))
	out = append(out, s.Stories...)
	out = append(out, s.Songs...)
	out = append(out, s.Digital...)
	return out
}

// ModuleID returns a stable label for m inside a plan.
func (m Module) ModuleID(index int) string {
	if m.Number > 0 {
		return "module_" + strconv.Itoa(m.Number)
	}
	return "module_" + strconv.Itoa(index+1)
}
