package generator

import "strings"

// SystemPrompt frames every generation call.
const SystemPrompt = `You are an early childhood education planner.
Draft a teaching plan as a JSON document that follows the response schema.
Every module needs a name, a learning objective, a start activity, development activities and a closing activity.
List the stories, songs and digital resources you recommend in the resources section.
Mark each resource as "real" when it is an existing work you can cite by its exact title, and as "creative" when you invented it.`

// UserPrompt renders the request as the user turn.
func UserPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("CLASSROOM PLAN:\n")
	sb.WriteString(strings.TrimSpace(req.Prompt))
	if d := strings.TrimSpace(req.DiagnosticText); d != "" {
		sb.WriteString("\n\nGROUP DIAGNOSTIC:\n")
		sb.WriteString(d)
	}
	return sb.String()
}
