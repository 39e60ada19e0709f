package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// LogTriageTask summarizes recent log output for a run, grounded on
// services.py's execute_log_triage: read logs, optionally hand them to an
// LLM for analysis, persist only a structural summary plus token counts.
type LogTriageTask struct{}

func (t *LogTriageTask) Execute(ctx context.Context, deps *Dependencies, in Input) (Output, error) {
	logDir := filepath.Join(deps.LogsRoot, "runs", in.Run.RunID)
	entries, readErr := os.ReadDir(logDir)

	var sampleText string
	fileCount := 0
	if readErr == nil {
		fileCount = len(entries)
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(logDir, e.Name()))
			if err == nil {
				sampleText += string(data) + "\n"
			}
			if len(sampleText) > 8000 {
				sampleText = sampleText[:8000]
				break
			}
		}
	}

	result := models.JSONB{
		"task":       models.TaskLogTriage,
		"log_dir":    logDir,
		"file_count": fileCount,
	}

	if deps.LLM == nil || sampleText == "" {
		result["summary"] = "no log content available for triage"
		return Output{Result: result}, nil
	}

	prompt := fmt.Sprintf("Review the following log excerpt and summarize errors, warnings and failures:\n\n%s", sampleText)
	started := deps.Clock.Now()
	resp, err := deps.LLM.Complete(ctx, CompletionRequest{Prompt: prompt, Model: "mistral-7b", MaxTokens: 500})
	duration := deps.Clock.Now().Sub(started)
	if err != nil {
		result["summary"] = "log triage LLM call failed"
		recordLLMCall(ctx, deps, in.Job, "local-llm", "mistral-7b", Usage{}, duration, false)
		return Output{Result: result}, fmt.Errorf("log triage: completing: %w", err)
	}

	recordLLMCall(ctx, deps, in.Job, "local-llm", "mistral-7b", resp.Usage, duration, true)

	artifactPath := filepath.Join(logDir, "log_triage_summary.txt")
	if err := os.WriteFile(artifactPath, []byte(resp.Text), 0o644); err == nil {
		recordArtifact(ctx, deps, in.Run.RunID, "log_triage_summary", artifactPath, int64(len(resp.Text)), "text/plain")
	}

	result["summary"] = truncate(resp.Text, 280)
	return Output{Result: result}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// recordLLMCall persists the per-invocation token ledger row and adds its
// usage onto the owning Job's own counters, so a Job that makes more than
// one LLM call still reports its true total and the dispatcher's
// per-Run aggregate (internal/dispatch's sumTokens) sees the right numbers
// without re-deriving them from llm_calls itself.
func recordLLMCall(ctx context.Context, deps *Dependencies, job *models.Job, endpointID, modelID string, usage Usage, duration time.Duration, success bool) {
	call := &models.LLMCall{
		RunID:            job.RunID,
		EndpointID:       endpointID,
		ModelID:          modelID,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		DurationMS:       duration.Milliseconds(),
		Success:          success,
	}
	_ = deps.Store.CreateLLMCall(ctx, call)

	job.PromptTokens += usage.PromptTokens
	job.CompletionTokens += usage.CompletionTokens
	job.TotalTokens += usage.TotalTokens
	_ = deps.Store.UpdateJob(ctx, job)
}

func recordArtifact(ctx context.Context, deps *Dependencies, runID, kind, path string, sizeBytes int64, mimeType string) {
	artifact := &models.RunArtifact{
		RunID:     runID,
		Kind:      kind,
		Path:      path,
		SizeBytes: sizeBytes,
		MimeType:  mimeType,
	}
	_ = deps.Store.CreateRunArtifact(ctx, artifact)
}
