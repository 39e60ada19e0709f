package tasks

import (
	"context"
	"strconv"

	"github.com/cyberbrain/orchestrator/internal/store/models"
)

// ServiceMapTask enumerates allowlisted containers across every enabled
// host to build a topology snapshot, grounded on services.py's
// execute_service_map. Like GPUReportTask it only inspects containers that
// already exist — it never spawns one.
type ServiceMapTask struct{}

func (t *ServiceMapTask) Execute(ctx context.Context, deps *Dependencies, in Input) (Output, error) {
	containers := inspectAllowedContainers(ctx, deps)

	hosts, err := deps.Store.ListEnabledHosts(ctx)
	if err != nil {
		return Output{}, err
	}
	hostSummaries := make([]models.JSONB, 0, len(hosts))
	for _, h := range hosts {
		hostSummaries = append(hostSummaries, models.JSONB{
			"worker_host_id":    h.WorkerHostID,
			"name":              h.Name,
			"kind":              h.Kind,
			"healthy":           h.Healthy,
			"active_runs_count": h.ActiveRunsCount,
		})
	}

	return Output{Result: models.JSONB{
		"task":       models.TaskServiceMap,
		"hosts":      hostSummaries,
		"containers": containers,
		"summary":    "mapped " + pluralCount(len(containers), "container") + " across " + pluralCount(len(hosts), "host"),
	}}, nil
}

func pluralCount(n int, noun string) string {
	s := noun
	if n != 1 {
		s += "s"
	}
	return strconv.Itoa(n) + " " + s
}
