// Package report builds a Run's markdown and JSON summaries once every Job
// has reached a terminal state, grounded on services.py's OrchestratorService
// report-building tail end of execute_run. Only structural fields
// (statuses, job ids, derived summaries) are ever included — never prompt
// or response text.
package report

import (
	"fmt"
	"strings"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// Build renders both report formats for a Run and its Jobs. The caller is
// responsible for persisting the result onto Run.ReportMarkdown /
// Run.ReportJSON.
func Build(run *models.Run, jobs []models.Job) (markdown string, reportJSON models.JSONB) {
	return buildMarkdown(run, jobs), buildJSON(run, jobs)
}

func buildMarkdown(run *models.Run, jobs []models.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Orchestrator Run %s\n\n", run.RunID)
	fmt.Fprintf(&b, "**Status:** %s\n", statusLabel(run.Status))
	if run.StartedAt != nil {
		fmt.Fprintf(&b, "**Started:** %s\n", run.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	b.WriteString("\n## Jobs\n\n")

	for _, j := range jobs {
		emoji := "✅"
		if j.Status != models.JobSuccess {
			emoji = "❌"
		}
		fmt.Fprintf(&b, "### %s %s\n", emoji, j.TaskKey)
		fmt.Fprintf(&b, "- Job ID: %s\n", j.JobID)
		fmt.Fprintf(&b, "- Status: %s\n", j.Status)
		if summary, ok := j.Result["summary"].(string); ok && summary != "" {
			fmt.Fprintf(&b, "- Summary: %s\n", summary)
		}
		if j.ErrorText != "" {
			fmt.Fprintf(&b, "- Error: %s\n", j.ErrorText)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func statusLabel(status models.RunStatus) string {
	switch status {
	case models.RunSuccess:
		return "Completed"
	case models.RunPartial:
		return "Partially completed"
	case models.RunCancelled:
		return "Cancelled"
	default:
		return "Failed"
	}
}

func buildJSON(run *models.Run, jobs []models.Job) models.JSONB {
	jobSummaries := make([]models.JSONB, 0, len(jobs))
	for _, j := range jobs {
		jobSummaries = append(jobSummaries, models.JSONB{
			"job_id":   j.JobID,
			"task_key": j.TaskKey,
			"status":   j.Status,
			"result":   j.Result,
		})
	}

	started := ""
	if run.StartedAt != nil {
		started = run.StartedAt.Format("2006-01-02T15:04:05Z07:00")
	}

	return models.JSONB{
		"run_id":       run.RunID,
		"status":       run.Status,
		"started_at":   started,
		"total_tokens": run.TotalTokens,
		"jobs":         jobSummaries,
	}
}
