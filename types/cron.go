package types

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

type CronManager interface {
	LifecycleManager
	Add(jobName, spec string, timeout time.Duration, job CronJob) error
	Remove(jobName string) error
	Jobs() []JobInfo
}

type CronJob func(ctx context.Context) error

type JobEntry struct {
	ID            cron.EntryID
	Name          string
	Spec          string
	Job           CronJob
	Timeout       time.Duration
	AddedAt       time.Time
	LastRun       time.Time
	LastDuration  time.Duration
	TotalDuration time.Duration
	RunCount      int64
	ErrorCount    int64
	LastError     error
}

type JobInfo struct {
	Name         string        `json:"name"`
	Spec         string        `json:"spec"`
	LastRun      time.Time     `json:"last_run"`
	NextRun      time.Time     `json:"next_run"`
	LastDuration time.Duration `json:"last_duration"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
	LastError    string        `json:"last_error,omitempty"`
}
