package scheduler

import "errors"

// Submission and configuration errors. Callers compare with errors.Is.
var (
	ErrSchedulerNotRunning   = errors.New("scheduler: not running")
	ErrJobQueueFull          = errors.New("scheduler: job queue full")
	ErrInvalidJobType        = errors.New("scheduler: unknown job type")
	ErrInvalidConfig         = errors.New("scheduler: invalid configuration")
	ErrInvalidCronExpression = errors.New("scheduler: unsupported cron expression")
)
