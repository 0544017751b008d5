// Package prompts builds the system and user prompts sent through the LLM
// gateway. Prompt text lives here so services stay free of string assembly.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// roleGuidance maps each worker role to the kinds of work it should be
// assigned. Planning prompts embed this so the model stays inside the
// configured role set.
var roleGuidance = map[string]string{
	"researcher": "research, information gathering, fact checking, data collection",
	"writer":     "writing, content creation, editing, documentation",
	"analyst":    "analysis, evaluation, data processing, review, quality control",
	"developer":  "software development, coding, implementation",
	"tester":     "testing, quality assurance, validation, debugging",
	"architect":  "system design, architecture, technical planning, strategy",
	"auditor":    "final quality review and acceptance checking",
}

// BuildPlanningSystemPrompt creates the system prompt for task planning and
// dependency analysis over the configured role set.
func BuildPlanningSystemPrompt(roles []string) string {
	var b strings.Builder

	b.WriteString("You are an expert workflow planner in a multi-agent coordination system.\n\n")
	b.WriteString("Break the user's request into executable tasks with dependencies and role assignments.\n\n")

	b.WriteString("AVAILABLE ROLES:\n")
	for _, role := range roles {
		if hint, ok := roleGuidance[role]; ok {
			b.WriteString(fmt.Sprintf("- %s: %s\n", role, hint))
		} else {
			b.WriteString(fmt.Sprintf("- %s\n", role))
		}
	}

	b.WriteString("\nPLANNING RULES:\n")
	b.WriteString("1. Each task must be specific and actionable.\n")
	b.WriteString("2. Dependencies must reference step_ids of other tasks in this plan.\n")
	b.WriteString("3. The dependency graph must be acyclic; tasks with no dependencies start immediately.\n")
	b.WriteString(fmt.Sprintf("4. Only use the listed roles (%s). Do not invent roles.\n", strings.Join(roles, ", ")))
	b.WriteString("5. Declare every file a task will touch in file_dependencies with access mode \"read\", \"write\", or \"exclusive\".\n")
	b.WriteString("6. Use descriptive step_ids, e.g. \"research_market\", \"write_summary\".\n")

	b.WriteString("\nRESPONSE FORMAT:\n")
	b.WriteString("Respond with a JSON array only, no commentary. Each element:\n")
	b.WriteString(`{"step_id": "string", "description": "string", "role": "string", "dependencies": ["step_id"], "file_dependencies": {"path": "read|write|exclusive"}}`)
	b.WriteString("\n")

	return b.String()
}

// BuildPlanningUserPrompt creates the planning input from the user request
// and submission metadata.
func BuildPlanningUserPrompt(userRequest string, metadata map[string]any) string {
	var b strings.Builder

	b.WriteString("USER REQUEST: ")
	b.WriteString(userRequest)
	b.WriteString("\n")

	if len(metadata) > 0 {
		if ctx, err := json.MarshalIndent(metadata, "", "  "); err == nil {
			b.WriteString("\nADDITIONAL CONTEXT:\n")
			b.Write(ctx)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nCreate a workflow plan with proper task dependencies.\n")
	return b.String()
}
