package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	statsapp "github.com/erp/backoffice/internal/application/statistics"
	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"github.com/erp/backoffice/internal/infrastructure/scheduler"
	"github.com/erp/backoffice/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CacheAdministrator evicts statistics cache entries on operator request
type CacheAdministrator interface {
	EvictNamespace(ctx context.Context, name string) error
	EvictBranch(ctx context.Context, branchID int64, name string) error
	EvictAll(ctx context.Context) error
	Stats() cache.Stats
}

// JobManager runs reconcile and archive jobs outside the schedule
type JobManager interface {
	SubmitReconcile(ctx context.Context, from, to time.Time) (statsapp.JobSnapshot, error)
	SubmitArchive(ctx context.Context, from, to time.Time) (statsapp.JobSnapshot, error)
	Get(id uuid.UUID) (statsapp.JobSnapshot, error)
	List() []statsapp.JobSnapshot
	Cancel(id uuid.UUID) error
}

// ArchivePolicyManager reads and replaces the retention policy
type ArchivePolicyManager interface {
	Policy() sales.ArchivePolicy
	SetPolicy(p sales.ArchivePolicy) error
	Stats(ctx context.Context, now time.Time) (*sales.ArchiveStats, error)
}

// SchedulerController exposes the cron scheduler to operators
type SchedulerController interface {
	Status() scheduler.SchedulerStatus
	TriggerNow(ctx context.Context, jobType scheduler.JobType) (*scheduler.Job, error)
}

var (
	_ CacheAdministrator   = (*statsapp.CacheAdmin)(nil)
	_ JobManager           = (*statsapp.JobRegistry)(nil)
	_ ArchivePolicyManager = (*statsapp.Archiver)(nil)
	_ SchedulerController  = (*scheduler.StatsCronScheduler)(nil)
)

// TriggeredJob describes a job submitted to the cron worker pool
type TriggeredJob struct {
	ID          uuid.UUID         `json:"id"`
	Type        scheduler.JobType `json:"type"`
	Trigger     scheduler.Trigger `json:"trigger"`
	PeriodStart time.Time         `json:"period_start"`
	PeriodEnd   time.Time         `json:"period_end"`
}

// AdminHandler serves /admin/statistics
type AdminHandler struct {
	BaseHandler
	cache     CacheAdministrator
	jobs      JobManager
	archiver  ArchivePolicyManager
	scheduler SchedulerController
	now       func() time.Time
}

// NewAdminHandler creates an AdminHandler
func NewAdminHandler(c CacheAdministrator, jobs JobManager, archiver ArchivePolicyManager) *AdminHandler {
	return &AdminHandler{
		cache:    c,
		jobs:     jobs,
		archiver: archiver,
		now:      time.Now,
	}
}

// SetScheduler sets the cron scheduler for status and manual triggers
func (h *AdminHandler) SetScheduler(s SchedulerController) {
	h.scheduler = s
}

// EvictCache drops cache entries. all wins over branch_id, which wins over a bare namespace.
// POST /admin/statistics/cache/evict
func (h *AdminHandler) EvictCache(c *gin.Context) {
	var req dto.CacheEvictRequest
	if !h.bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	var err error
	switch {
	case req.All:
		err = h.cache.EvictAll(ctx)
	case req.BranchID > 0:
		err = h.cache.EvictBranch(ctx, req.BranchID, req.Namespace)
	case req.Namespace != "":
		err = h.cache.EvictNamespace(ctx, req.Namespace)
	default:
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "one of all, branch_id or namespace is required")
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// GetCacheStats returns hit and miss counters of both tiers
// GET /admin/statistics/cache/stats
func (h *AdminHandler) GetCacheStats(c *gin.Context) {
	h.Success(c, h.cache.Stats())
}

// SubmitReconcile starts a reconcile job over [from, to)
// POST /admin/statistics/jobs/reconcile
func (h *AdminHandler) SubmitReconcile(c *gin.Context) {
	h.submitJob(c, h.jobs.SubmitReconcile)
}

// SubmitArchive starts an archive job over [from, to)
// POST /admin/statistics/jobs/archive
func (h *AdminHandler) SubmitArchive(c *gin.Context) {
	h.submitJob(c, h.jobs.SubmitArchive)
}

func (h *AdminHandler) submitJob(c *gin.Context, submit func(context.Context, time.Time, time.Time) (statsapp.JobSnapshot, error)) {
	var req dto.JobRangeRequest
	if !h.bindJSON(c, &req) {
		return
	}
	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	snap, err := submit(c.Request.Context(), from, to)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, snap)
}

// ListJobs returns manual jobs, newest first
// GET /admin/statistics/jobs
func (h *AdminHandler) ListJobs(c *gin.Context) {
	jobs := h.jobs.List()
	h.List(c, jobs, len(jobs))
}

// GetJob returns one manual job
// GET /admin/statistics/jobs/:id
func (h *AdminHandler) GetJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	snap, err := h.jobs.Get(id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, snap)
}

// CancelJob asks a running job to stop and returns its current state
// POST /admin/statistics/jobs/:id/cancel
func (h *AdminHandler) CancelJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	if err := h.jobs.Cancel(id); err != nil {
		h.HandleError(c, err)
		return
	}
	snap, err := h.jobs.Get(id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, snap)
}

func (h *AdminHandler) jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid job ID format")
		return uuid.Nil, false
	}
	return id, true
}

// GetArchiveStats counts rows by age per table
// GET /admin/statistics/archive/stats
func (h *AdminHandler) GetArchiveStats(c *gin.Context) {
	stats, err := h.archiver.Stats(c.Request.Context(), h.now())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// GetArchivePolicy returns the retention policy in effect
// GET /admin/statistics/archive/policy
func (h *AdminHandler) GetArchivePolicy(c *gin.Context) {
	h.Success(c, h.archiver.Policy())
}

// UpdateArchivePolicy replaces the retention policy
// PUT /admin/statistics/archive/policy
func (h *AdminHandler) UpdateArchivePolicy(c *gin.Context) {
	var req dto.ArchivePolicyRequest
	if !h.bindJSON(c, &req) {
		return
	}
	policy := sales.ArchivePolicy{
		Enabled:       req.Enabled,
		RetentionDays: req.RetentionDays,
		BatchSize:     req.BatchSize,
		Mode:          sales.ArchiveMode(req.Mode),
	}
	if err := h.archiver.SetPolicy(policy); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, h.archiver.Policy())
}

// GetSchedulerStatus returns schedules and the last outcome per job type
// GET /admin/statistics/scheduler/status
func (h *AdminHandler) GetSchedulerStatus(c *gin.Context) {
	if h.scheduler == nil {
		h.ServiceUnavailable(c, "Scheduler is not configured")
		return
	}
	h.Success(c, h.scheduler.Status())
}

// TriggerScheduledJob runs a scheduled job now with its scheduled period
// POST /admin/statistics/scheduler/:type/trigger
func (h *AdminHandler) TriggerScheduledJob(c *gin.Context) {
	if h.scheduler == nil {
		h.ServiceUnavailable(c, "Scheduler is not configured")
		return
	}
	jobType, err := scheduler.ParseJobType(strings.ToUpper(c.Param("type")))
	if err != nil {
		h.BadRequest(c, "Unknown job type")
		return
	}
	job, err := h.scheduler.TriggerNow(c.Request.Context(), jobType)
	if err != nil {
		if errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			h.ServiceUnavailable(c, "Scheduler is not running")
			return
		}
		h.HandleError(c, err)
		return
	}
	// only fields the worker never writes are read here
	h.Accepted(c, TriggeredJob{
		ID:          job.ID,
		Type:        job.Type,
		Trigger:     job.Trigger,
		PeriodStart: job.PeriodStart,
		PeriodEnd:   job.PeriodEnd,
	})
}
