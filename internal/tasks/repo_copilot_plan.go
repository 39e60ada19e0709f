package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/cyberbrain/orchestrator/internal/worker"
)

// RepoCopilotPlanTask generates a repository change plan inside an
// ephemeral, allowlisted container, exercising the full §4.E spawn path
// rather than running in-process like the other three tasks — planning
// needs a sandboxed filesystem view of the uploaded repository snapshot.
// Grounded on services.py's RepoCopilotService: directive-gated, plan-only
// by default, no prompt/response content ever leaves the container except
// as a derived plan artifact and a token count.
type RepoCopilotPlanTask struct{}

type repoCopilotContainerResult struct {
	Plan  string `json:"plan"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error string `json:"error"`
}

func (t *RepoCopilotPlanTask) Execute(ctx context.Context, deps *Dependencies, in Input) (Output, error) {
	createBranch, _ := in.Run.DirectiveConfig["create_branch"].(bool)
	push, _ := in.Run.DirectiveConfig["push"].(bool)

	if in.Run.DirectiveID != nil {
		directive, err := deps.Store.GetDirectiveByID(ctx, *in.Run.DirectiveID)
		if err == nil {
			if createBranch && !directive.AllowsBranchCreate() {
				return Output{}, orcherr.New(orcherr.KindValidation, fmt.Sprintf("directive %q does not allow branch creation", directive.Name))
			}
			if push && !directive.AllowsPush() {
				return Output{}, orcherr.New(orcherr.KindValidation, fmt.Sprintf("directive %q does not allow push", directive.Name))
			}
		}
	} else if createBranch || push {
		return Output{}, orcherr.New(orcherr.KindValidation, "branch creation or push requested without a directive")
	}

	image, tag := "orchestrator/repo-copilot", "latest"
	if v, ok := in.Run.DirectiveConfig["image"].(string); ok && v != "" {
		image = v
	}
	if v, ok := in.Run.DirectiveConfig["tag"].(string); ok && v != "" {
		tag = v
	}

	targetHostID, _ := in.Run.DirectiveConfig["worker_host_id"].(string)
	host, err := deps.HostRegistry.SelectHost(ctx, targetHostID, false)
	if err != nil {
		return Output{}, fmt.Errorf("repo_copilot_plan: selecting host: %w", err)
	}

	logsDir := filepath.Join(deps.LogsRoot, "runs", in.Run.RunID)
	uploadsDir := filepath.Join(deps.UploadsRoot, "runs", in.Run.RunID)
	_ = os.MkdirAll(logsDir, 0o755)

	containerID, err := deps.Orchestrator.SpawnWorker(ctx, worker.SpawnRequest{
		Run:  in.Run,
		Job:  in.Job,
		Host: *host,
		Env: map[string]string{
			"CREATE_BRANCH": boolEnv(createBranch),
			"PUSH":          boolEnv(push),
		},
		Image:      image,
		Tag:        tag,
		LogsDir:    logsDir,
		UploadsDir: uploadsDir,
	})
	if err != nil {
		return Output{}, fmt.Errorf("repo_copilot_plan: spawning worker: %w", err)
	}

	exitCode, stdout, awaitErr := deps.Orchestrator.AwaitCompletion(ctx, *host, containerID)
	stopErr := deps.Orchestrator.StopWorker(ctx, *host, containerID, 10)
	if stopErr != nil {
		_ = stopErr // cleanup is best-effort, already audited by StopWorker
	}
	if awaitErr != nil {
		return Output{}, fmt.Errorf("repo_copilot_plan: awaiting completion: %w", awaitErr)
	}

	var parsed repoCopilotContainerResult
	if jsonErr := json.Unmarshal(stdout, &parsed); jsonErr != nil {
		return Output{}, fmt.Errorf("repo_copilot_plan: parsing container result: %w", jsonErr)
	}
	if exitCode != 0 || parsed.Error != "" {
		return Output{}, orcherr.New(orcherr.KindTransientRuntime, fmt.Sprintf("repo_copilot_plan: container exited %d: %s", exitCode, parsed.Error))
	}

	recordLLMCall(ctx, deps, in.Job, "repo-copilot", "mistral-7b", Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}, 0, true)

	artifactPath := filepath.Join(logsDir, "repo_copilot_plan.md")
	if err := os.WriteFile(artifactPath, []byte(parsed.Plan), 0o644); err == nil {
		recordArtifact(ctx, deps, in.Run.RunID, "repo_copilot_plan", artifactPath, int64(len(parsed.Plan)), "text/markdown")
	}

	return Output{Result: models.JSONB{
		"task":          models.TaskRepoCopilotPlan,
		"create_branch": createBranch,
		"push":          push,
		"summary":       truncate(parsed.Plan, 280),
	}}, nil
}

func boolEnv(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
