// Package planner generates deterministic agent step plans from an
// operator's freeform goal and the directive that bounds it. Grounded on
// orchestrator/agent/planner.py's PlannerService: rules-based keyword
// matching, no external LLM call, so launch_agent stays synchronous and
// reproducible.
package planner

import (
	"sort"
	"strings"

	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// taskKeywords mirrors PlannerService.TASK_KEYWORDS: a goal mentioning one
// of a task's keywords scores that task higher.
var taskKeywords = map[string][]string{
	models.TaskLogTriage:       {"log", "logs", "triage", "analyze", "error", "warning", "event"},
	models.TaskGPUReport:       {"gpu", "nvidia", "vram", "utilization", "memory", "video", "graphics"},
	models.TaskServiceMap:      {"service", "map", "network", "container", "port", "connection", "expose"},
	models.TaskRepoCopilotPlan: {"repo", "repository", "branch", "pull request", "code", "commit"},
}

// defaultTaskOrder is the allowed-task fallback when a directive's task
// list is empty, matching planner.py's three-task default. repo_copilot_plan
// is not in it; it is planned only when a directive's task list names it.
var defaultTaskOrder = []string{models.TaskLogTriage, models.TaskGPUReport, models.TaskServiceMap}

// maxPlanTasks bounds a generated plan to keep agent runs bounded, matching
// planner.py's plan_tasks[:5].
const maxPlanTasks = 5

// Plan builds the ordered AgentStep list for an agent run from goal and
// directive. It never touches the store: callers persist the returned
// steps with step indices already contiguous from 0, interleaved with
// wait steps, exactly as planner.py's plan() does.
func Plan(goal string, directive *models.Directive) ([]models.AgentStep, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, orcherr.New(orcherr.KindPlanGenerationFailed, "goal cannot be empty")
	}
	if directive == nil {
		return nil, orcherr.New(orcherr.KindPlanGenerationFailed, "directive cannot be nil")
	}

	allowed := []string(directive.TaskList)
	if len(allowed) == 0 {
		allowed = append([]string(nil), defaultTaskOrder...)
	}

	taskIDs := rankTasksByKeywordScore(goal, allowed)
	if len(taskIDs) == 0 {
		return nil, orcherr.New(orcherr.KindPlanGenerationFailed, "no candidate task resolved from directive's task list")
	}
	if len(taskIDs) > maxPlanTasks {
		taskIDs = taskIDs[:maxPlanTasks]
	}

	steps := make([]models.AgentStep, 0, len(taskIDs)*2)
	for i, taskID := range taskIDs {
		if i > 0 {
			steps = append(steps, models.AgentStep{
				StepType: models.StepWait,
				Status:   models.AgentStepPending,
				Inputs:   models.JSONB{"seconds": 2},
			})
		}
		steps = append(steps, models.AgentStep{
			StepType: models.StepTaskCall,
			TaskKey:  taskID,
			Status:   models.AgentStepPending,
			Inputs: models.JSONB{
				"goal":        goal,
				"task_config": directive.Config,
			},
		})
	}

	for i := range steps {
		steps[i].StepIndex = i
	}
	return steps, nil
}

type taskScore struct {
	taskID string
	score  int
	order  int
}

// rankTasksByKeywordScore scores each allowed task by keyword hits against
// the lowercased goal, keeps everything with a positive score (stable by
// input order), and falls back to the directive's first allowed task when
// nothing matched, exactly as planner.py does.
func rankTasksByKeywordScore(goal string, allowed []string) []string {
	goalLower := strings.ToLower(goal)

	scores := make([]taskScore, 0, len(allowed))
	for i, taskID := range allowed {
		score := 0
		for _, kw := range taskKeywords[taskID] {
			if strings.Contains(goalLower, kw) {
				score++
			}
		}
		scores = append(scores, taskScore{taskID: taskID, score: score, order: i})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	var out []string
	for _, s := range scores {
		if s.score > 0 {
			out = append(out, s.taskID)
		}
	}
	if len(out) == 0 && len(allowed) > 0 {
		out = []string{allowed[0]}
	}
	return out
}
