// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// ErrTriggerLimited is returned when a job is triggered manually too often.
var ErrTriggerLimited = errors.New("rate limit exceeded, try again in a few seconds")

// ErrJobNotFound is returned for unknown job names.
var ErrJobNotFound = errors.New("job not found")

// triggerInterval is the minimum gap between manual runs of one job.
const triggerInterval = 10 * time.Second

// registeredJob holds metadata about a registered cron job.
type registeredJob struct {
	name        string
	description string
	schedule    string
	entryID     cron.EntryID
	run         func() error
	limiter     *rate.Limiter
}

// JobInfo is the public view of a registered job.
type JobInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule"`
	LastRun     time.Time `json:"last_run,omitzero"`
	NextRun     time.Time `json:"next_run,omitzero"`
}

// Registry tracks the jobs of one cron instance so they can be listed and
// triggered manually.
type Registry struct {
	cron   *cron.Cron
	logger *slog.Logger
	mu     sync.RWMutex
	jobs   map[string]*registeredJob
}

// NewRegistry creates a registry for jobs scheduled on c.
func NewRegistry(c *cron.Cron, logger *slog.Logger) *Registry {
	return &Registry{
		cron:   c,
		logger: logger,
		jobs:   make(map[string]*registeredJob),
	}
}

// Add schedules run on the cron instance and registers it under name.
// Scheduled runs log their error; manual runs return it.
func (r *Registry) Add(name, description, schedule string, run func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[name]; ok {
		return fmt.Errorf("job already registered: %s", name)
	}

	entryID, err := r.cron.AddFunc(schedule, func() {
		started := time.Now()
		if err := run(); err != nil {
			r.logger.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		r.logger.Debug("scheduled job complete", "job", name, "duration", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("scheduling %s with %q: %w", name, schedule, err)
	}

	r.jobs[name] = &registeredJob{
		name:        name,
		description: description,
		schedule:    schedule,
		entryID:     entryID,
		run:         run,
		limiter:     rate.NewLimiter(rate.Every(triggerInterval), 1),
	}
	r.logger.Debug("registered scheduled job", "name", name, "schedule", schedule)
	return nil
}

// List returns all registered jobs sorted by name.
func (r *Registry) List() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]JobInfo, 0, len(r.jobs))
	for _, job := range r.jobs {
		entry := r.cron.Entry(job.entryID)
		result = append(result, JobInfo{
			Name:        job.name,
			Description: job.description,
			Schedule:    job.schedule,
			LastRun:     entry.Prev,
			NextRun:     entry.Next,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// TriggerNow runs a job immediately and returns its error.
// Each job can be triggered at most once per 10 seconds.
func (r *Registry) TriggerNow(name string) error {
	r.mu.RLock()
	job, ok := r.jobs[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !job.limiter.Allow() {
		return ErrTriggerLimited
	}

	r.logger.Info("manually triggering job", "name", name)
	return job.run()
}

// Remove stops and unregisters a job.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[name]
	if !ok {
		return
	}
	r.cron.Remove(job.entryID)
	delete(r.jobs, name)
	r.logger.Debug("unregistered scheduled job", "name", name)
}
