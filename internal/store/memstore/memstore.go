// Package memstore is an in-memory Store fake used by package tests in
// place of the teacher's testcontainers-backed Postgres fixtures (see
// DESIGN.md for why testcontainers itself was dropped).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyberbrain/orchestrator/internal/store"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is a goroutine-safe, non-persistent implementation of store.Store.
// It does not enforce SQL constraints; of the GORM hooks, only
// LLMCall.BeforeSave is run, by CreateLLMCall.
type Store struct {
	mu sync.Mutex

	directives    map[string]models.Directive
	jobTemplates  map[string]models.JobTemplate
	schedules     map[string]models.Schedule
	runs          map[string]models.Run
	jobs          map[string]models.Job
	queueItems    map[string]models.JobQueueItem
	artifacts     map[string]models.RunArtifact
	llmCalls      map[string]models.LLMCall
	hosts         map[string]models.WorkerHost
	gpus          map[string]models.GPUState
	allowlist     map[string]models.WorkerImageAllowlist
	containerList map[string]models.ContainerAllowlist
	audits        map[string]models.WorkerAudit
	agentRuns     map[string]models.AgentRun
	agentSteps    map[string]models.AgentStep
	targets       map[string]models.NotificationTarget
	notifications map[string]models.RunNotification
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		directives:    map[string]models.Directive{},
		jobTemplates:  map[string]models.JobTemplate{},
		schedules:     map[string]models.Schedule{},
		runs:          map[string]models.Run{},
		jobs:          map[string]models.Job{},
		queueItems:    map[string]models.JobQueueItem{},
		artifacts:     map[string]models.RunArtifact{},
		llmCalls:      map[string]models.LLMCall{},
		hosts:         map[string]models.WorkerHost{},
		gpus:          map[string]models.GPUState{},
		allowlist:     map[string]models.WorkerImageAllowlist{},
		containerList: map[string]models.ContainerAllowlist{},
		audits:        map[string]models.WorkerAudit{},
		agentRuns:     map[string]models.AgentRun{},
		agentSteps:    map[string]models.AgentStep{},
		targets:       map[string]models.NotificationTarget{},
		notifications: map[string]models.RunNotification{},
	}
}

func (s *Store) Initialize() (func(), error) { return func() {}, nil }
func (s *Store) GetDB() *gorm.DB              { return nil }

func newID() string { return uuid.NewString() }

// --- Directive / JobTemplate ---

func (s *Store) CreateDirective(_ context.Context, d *models.Directive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.DirectiveID == "" {
		d.DirectiveID = newID()
	}
	s.directives[d.DirectiveID] = *d
	return nil
}

func (s *Store) GetDirectiveByID(_ context.Context, id string) (*models.Directive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.directives[id]; ok {
		return &d, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetDirectiveByName(_ context.Context, name string) (*models.Directive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.directives {
		if d.Name == name {
			return &d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateDirective(_ context.Context, d *models.Directive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directives[d.DirectiveID] = *d
	return nil
}

func (s *Store) GetJobTemplate(_ context.Context, taskKey string) (*models.JobTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.jobTemplates[taskKey]; ok {
		return &t, nil
	}
	return nil, store.ErrNotFound
}

// PutJobTemplate is a test helper (not part of store.Store) for seeding.
func (s *Store) PutJobTemplate(t models.JobTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobTemplates[t.TaskKey] = t
}

// --- Schedule ---

func (s *Store) CreateSchedule(_ context.Context, sc *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ScheduleID == "" {
		sc.ScheduleID = newID()
	}
	s.schedules[sc.ScheduleID] = *sc
	return nil
}

func (s *Store) GetScheduleByID(_ context.Context, id string) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.schedules[id]; ok {
		return &sc, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateSchedule(_ context.Context, sc *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ScheduleID] = *sc
	return nil
}

func (s *Store) ClaimDueSchedules(_ context.Context, now time.Time, limit int, claimant string, claimUntil time.Time) ([]models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.Schedule
	for _, sc := range s.schedules {
		if sc.Due(now) {
			due = append(due, sc)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextFireAt.Before(*due[j].NextFireAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].ClaimedBy = claimant
		due[i].ClaimedUntil = &claimUntil
		s.schedules[due[i].ScheduleID] = due[i]
	}
	return due, nil
}

func (s *Store) ReleaseScheduleClaim(_ context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[scheduleID]
	if !ok {
		return store.ErrNotFound
	}
	sc.ClaimedBy = ""
	sc.ClaimedUntil = nil
	s.schedules[scheduleID] = sc
	return nil
}

// --- Run ---

func (s *Store) CreateRun(_ context.Context, r *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.RunID == "" {
		r.RunID = newID()
	}
	s.runs[r.RunID] = *r
	return nil
}

func (s *Store) GetRunByID(_ context.Context, id string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		return &r, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateRun(_ context.Context, r *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.RunID] = *r
	return nil
}

// RunCount returns the number of Run rows currently stored, for tests
// asserting that a rejected operation created none.
func (s *Store) RunCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *Store) CountRunningRuns(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.runs {
		if r.Status == models.RunRunning {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountRunningJobsByTaskKey(_ context.Context, taskKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.TaskKey == taskKey && j.Status == models.JobRunning {
			n++
		}
	}
	return n, nil
}

func (s *Store) LastSuccessfulRun(_ context.Context) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Run
	for _, r := range s.runs {
		r := r
		if r.Status != models.RunSuccess || r.EndedAt == nil {
			continue
		}
		if best == nil || r.EndedAt.After(*best.EndedAt) {
			best = &r
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) RunsSince(_ context.Context, since time.Time) ([]models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Run
	for _, r := range s.runs {
		if r.CreatedAt.After(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Job ---

func (s *Store) CreateJob(_ context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.JobID == "" {
		j.JobID = newID()
	}
	s.jobs[j.JobID] = *j
	return nil
}

func (s *Store) GetJobByID(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return &j, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateJob(_ context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.JobID] = *j
	return nil
}

func (s *Store) ListJobsByRun(_ context.Context, runID string) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if j.RunID == runID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- JobQueueItem ---

func (s *Store) CreateJobQueueItem(_ context.Context, q *models.JobQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.JobQueueItemID == "" {
		q.JobQueueItemID = newID()
	}
	s.queueItems[q.JobQueueItemID] = *q
	return nil
}

func (s *Store) GetJobQueueItemByJobID(_ context.Context, jobID string) (*models.JobQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queueItems {
		if q.JobID == jobID {
			return &q, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateJobQueueItem(_ context.Context, q *models.JobQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueItems[q.JobQueueItemID] = *q
	return nil
}

func (s *Store) ClaimPendingQueueItems(_ context.Context, now time.Time, limit int, claimant string, claimUntil time.Time) ([]models.JobQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.JobQueueItem
	for _, q := range s.queueItems {
		if q.Status == models.QueuePending || (q.Status == models.QueueClaimed && q.ClaimedUntil != nil && q.ClaimedUntil.Before(now)) {
			due = append(due, q)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = models.QueueClaimed
		due[i].ClaimedBy = claimant
		due[i].ClaimedUntil = &claimUntil
		due[i].Attempts++
		s.queueItems[due[i].JobQueueItemID] = due[i]
	}
	return due, nil
}

// --- RunArtifact ---

func (s *Store) CreateRunArtifact(_ context.Context, a *models.RunArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.RunArtifactID == "" {
		a.RunArtifactID = newID()
	}
	s.artifacts[a.RunArtifactID] = *a
	return nil
}

func (s *Store) ListRunArtifacts(_ context.Context, runID string) ([]models.RunArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RunArtifact
	for _, a := range s.artifacts {
		if a.RunID == runID {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- LLMCall ---

func (s *Store) CreateLLMCall(_ context.Context, c *models.LLMCall) error {
	if err := c.BeforeSave(nil); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.LLMCallID == "" {
		c.LLMCallID = newID()
	}
	s.llmCalls[c.LLMCallID] = *c
	return nil
}

func (s *Store) SumTokensByRun(_ context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.llmCalls {
		if c.RunID == runID {
			total += c.TotalTokens
		}
	}
	return total, nil
}

// --- WorkerHost ---

func (s *Store) CreateWorkerHost(_ context.Context, h *models.WorkerHost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.WorkerHostID == "" {
		h.WorkerHostID = newID()
	}
	s.hosts[h.WorkerHostID] = *h
	return nil
}

func (s *Store) GetWorkerHostByID(_ context.Context, id string) (*models.WorkerHost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hosts[id]; ok {
		return &h, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateWorkerHost(_ context.Context, h *models.WorkerHost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[h.WorkerHostID] = *h
	return nil
}

func (s *Store) ListEnabledHosts(_ context.Context) ([]models.WorkerHost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WorkerHost
	for _, h := range s.hosts {
		if h.Enabled {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerHostID < out[j].WorkerHostID })
	return out, nil
}

// --- GPUState ---

func gpuKey(hostID, gpuID string) string { return hostID + "/" + gpuID }

func (s *Store) UpsertGPUState(_ context.Context, g *models.GPUState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpus[gpuKey(g.WorkerHostID, g.GPUID)] = *g
	return nil
}

func (s *Store) GetGPUState(_ context.Context, hostID, gpuID string) (*models.GPUState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gpus[gpuKey(hostID, gpuID)]; ok {
		return &g, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListAvailableGPUs(_ context.Context, hostID string) ([]models.GPUState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GPUState
	for _, g := range s.gpus {
		if g.WorkerHostID == hostID && g.IsAvailable {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GPUID < out[j].GPUID })
	return out, nil
}

func (s *Store) ListAllGPUStates(_ context.Context) ([]models.GPUState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.GPUState, 0, len(s.gpus))
	for _, g := range s.gpus {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkerHostID != out[j].WorkerHostID {
			return out[i].WorkerHostID < out[j].WorkerHostID
		}
		return out[i].GPUID < out[j].GPUID
	})
	return out, nil
}

func (s *Store) IncrementGPUActiveWorkers(_ context.Context, hostID, gpuID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := gpuKey(hostID, gpuID)
	g, ok := s.gpus[key]
	if !ok {
		return store.ErrNotFound
	}
	g.ActiveWorkers += delta
	if g.ActiveWorkers < 0 {
		g.ActiveWorkers = 0
	}
	s.gpus[key] = g
	return nil
}

// --- Allowlists ---

func allowlistKey(image, tag string) string { return image + ":" + tag }

func (s *Store) GetAllowlistEntry(_ context.Context, image, tag string) (*models.WorkerImageAllowlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.allowlist[allowlistKey(image, tag)]; ok && a.Active {
		return &a, nil
	}
	return nil, store.ErrNotFound
}

// PutAllowlistEntry is a test helper for seeding.
func (s *Store) PutAllowlistEntry(a models.WorkerImageAllowlist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowlist[allowlistKey(a.Image, a.Tag)] = a
}

func (s *Store) AddContainerToAllowlist(_ context.Context, c *models.ContainerAllowlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containerList[c.ContainerID] = *c
	return nil
}

func (s *Store) ListContainerAllowlist(_ context.Context) ([]models.ContainerAllowlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ContainerAllowlist, 0, len(s.containerList))
	for _, c := range s.containerList {
		out = append(out, c)
	}
	return out, nil
}

// --- WorkerAudit ---

func (s *Store) CreateWorkerAudit(_ context.Context, a *models.WorkerAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.WorkerAuditID == "" {
		a.WorkerAuditID = newID()
	}
	s.audits[a.WorkerAuditID] = *a
	return nil
}

// --- AgentRun / AgentStep ---

func (s *Store) CreateAgentRun(_ context.Context, a *models.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.AgentRunID == "" {
		a.AgentRunID = newID()
	}
	s.agentRuns[a.AgentRunID] = *a
	return nil
}

func (s *Store) GetAgentRunByID(_ context.Context, id string) (*models.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agentRuns[id]; ok {
		return &a, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateAgentRun(_ context.Context, a *models.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentRuns[a.AgentRunID] = *a
	return nil
}

func (s *Store) ClaimRunnableAgentRuns(_ context.Context, limit int) ([]models.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AgentRun
	for _, a := range s.agentRuns {
		if a.Status == models.AgentPending || a.Status == models.AgentPendingApproval {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateAgentStep(_ context.Context, st *models.AgentStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.AgentStepID == "" {
		st.AgentStepID = newID()
	}
	s.agentSteps[st.AgentStepID] = *st
	return nil
}

func (s *Store) ListAgentSteps(_ context.Context, agentRunID string) ([]models.AgentStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AgentStep
	for _, st := range s.agentSteps {
		if st.AgentRunID == agentRunID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

func (s *Store) UpdateAgentStep(_ context.Context, st *models.AgentStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentSteps[st.AgentStepID] = *st
	return nil
}

// --- Notifications ---

func (s *Store) ListEnabledNotificationTargets(_ context.Context) ([]models.NotificationTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationTarget
	for _, t := range s.targets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

// PutNotificationTarget is a test helper for seeding.
func (s *Store) PutNotificationTarget(t models.NotificationTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.NotificationTargetID == "" {
		t.NotificationTargetID = newID()
	}
	s.targets[t.NotificationTargetID] = t
}

func (s *Store) CreateRunNotification(_ context.Context, n *models.RunNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.RunNotificationID == "" {
		n.RunNotificationID = newID()
	}
	s.notifications[n.RunNotificationID] = *n
	return nil
}

func (s *Store) UpdateRunNotification(_ context.Context, n *models.RunNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.RunNotificationID] = *n
	return nil
}
