package prompts

import (
	"fmt"
	"strings"

	"github.com/agentcoord/agentcoord/pkg/models"
)

// auditCriteria are the default quality criteria the auditor evaluates
// completed work against.
var auditCriteria = []string{
	"Completeness: all task requirements are fully addressed",
	"Accuracy: information and conclusions are correct",
	"Clarity: content is clear and well organized",
	"Relevance: all content relates to the original request",
	"Consistency: style and approach are consistent throughout",
}

// BuildAuditSystemPrompt creates the system prompt for the workflow quality
// gate.
func BuildAuditSystemPrompt() string {
	var b strings.Builder

	b.WriteString("You are a rigorous quality auditor in a multi-agent coordination system.\n\n")
	b.WriteString("You are the final quality gate for a completed workflow. Review every task result against the original request and decide whether the work meets professional standards.\n\n")

	b.WriteString("QUALITY CRITERIA:\n")
	for _, c := range auditCriteria {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}

	b.WriteString("\nWhen work is insufficient, name the specific tasks that must be redone and why. Only reference step_ids that exist in the workflow.\n")

	b.WriteString("\nRESPONSE FORMAT:\n")
	b.WriteString("Respond with JSON only, no commentary:\n")
	b.WriteString(`{"is_successful": true|false, "feedback": "string", "rework_directives": [{"step_id": "string", "reason": "string", "cascade": true|false}], "confidence": 0.0-1.0}`)
	b.WriteString("\n")

	return b.String()
}

// BuildAuditUserPrompt assembles the audit input: the original request and
// every task's latest result in graph order.
func BuildAuditUserPrompt(wf *models.Workflow, tasks []*models.Task, results map[string]*models.Result) string {
	var b strings.Builder

	b.WriteString("ORIGINAL REQUEST: ")
	b.WriteString(wf.UserRequest)
	b.WriteString("\n\nCOMPLETED TASKS:\n")

	for _, t := range tasks {
		b.WriteString(fmt.Sprintf("\n--- step_id: %s (role: %s)\n", t.StepID, t.Role))
		b.WriteString("description: ")
		b.WriteString(t.Description)
		b.WriteString("\n")
		if res, ok := results[t.StepID]; ok {
			b.WriteString("result:\n")
			b.WriteString(res.FinalResult)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nAudit this workflow against the quality criteria.\n")
	return b.String()
}
