package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentcoord/agentcoord/pkg/models"
)

// SynthesizeArtifact assembles the workflow's deliverable from the latest
// result of every task, concatenated in dependency order so downstream work
// follows the work it built on. Tasks without a result are skipped.
func SynthesizeArtifact(tasks []*models.Task, results map[string]*models.Result) string {
	ordered := topoOrder(tasks)

	var b strings.Builder
	for _, t := range ordered {
		res, ok := results[t.StepID]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(fmt.Sprintf("## %s (%s)\n\n", t.StepID, t.Role))
		b.WriteString(res.FinalResult)
	}
	return b.String()
}

// topoOrder sorts tasks so every task follows its dependencies, breaking
// ties by step id for stable output. Tasks on a cycle (which planning
// rejects, but stored data is not re-validated) are appended at the end.
func topoOrder(tasks []*models.Task) []*models.Task {
	byID := make(map[string]*models.Task, len(tasks))
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		byID[t.StepID] = t
		indegree[t.StepID] += 0
		for _, dep := range t.Dependencies {
			indegree[t.StepID]++
			dependents[dep] = append(dependents[dep], t.StepID)
		}
	}
	// Dangling dependencies would wedge the queue; drop their edges.
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, known := byID[dep]; !known {
				indegree[t.StepID]--
			}
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	ordered := make([]*models.Task, 0, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])
		seen[id] = true

		var next []string
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	for _, t := range tasks {
		if !seen[t.StepID] {
			ordered = append(ordered, t)
		}
	}
	return ordered
}
