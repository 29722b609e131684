package runs

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule prunes old runs once an hour.
const DefaultPruneSchedule = "@every 1h"

// Janitor prunes old runs on a cron schedule.
type Janitor struct {
	cron    *cron.Cron
	manager *Manager
	max     int
}

// NewJanitor schedules Cleanup(max) on manager. An empty schedule uses
// DefaultPruneSchedule.
func NewJanitor(manager *Manager, schedule string, max int) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	j := &Janitor{
		cron:    cron.New(),
		manager: manager,
		max:     max,
	}
	if _, err := j.cron.AddFunc(schedule, j.Prune); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Prune runs one cleanup pass immediately.
func (j *Janitor) Prune() {
	n, err := j.manager.Cleanup(j.max)
	if err != nil {
		j.manager.logger.Warn("prune runs failed", "error", err)
		return
	}
	if n > 0 {
		j.manager.logger.Info("pruned old runs", "removed", n, "max", j.max)
	}
}

// Start starts the scheduler.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop stops the scheduler and waits for a running prune to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
