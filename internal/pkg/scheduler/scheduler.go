package scheduler

import (
	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/llmready/llmready/internal/pkg/env"
	"github.com/llmready/llmready/internal/pkg/jobqueue"
)

// Scheduler enqueues the periodic maintenance jobs on their cron schedules.
// It only enqueues; the maintenance queue workers do the actual work, so a
// slow job never blocks the scheduler and restarts cannot double-run a job
// that is already in flight.
type Scheduler struct {
	cron  *cron.Cron
	queue *jobqueue.Queue
}

func New(queue *jobqueue.Queue) *Scheduler {
	return &Scheduler{
		cron:  cron.New(),
		queue: queue,
	}
}

// Start registers the schedules and starts the cron loop. Schedules are
// env-tunable so staging can run them tighter.
func (s *Scheduler) Start() error {
	entries := []struct {
		spec    string
		jobType jobqueue.JobType
	}{
		{env.GetEnv("QUOTA_RESET_CRON", "0 0 * * *"), jobqueue.JobTypeQuotaReset},
		{env.GetEnv("CLEANUP_CRON", "30 3 * * *"), jobqueue.JobTypeCleanupStale},
		{env.GetEnv("BILLING_RESYNC_CRON", "@hourly"), jobqueue.JobTypeBillingResync},
	}

	for _, entry := range entries {
		jobType := entry.jobType
		_, err := s.cron.AddFunc(entry.spec, func() {
			s.enqueue(jobType)
		})
		if err != nil {
			return err
		}
		log.Infof("[Scheduler] Registered %s at %q", jobType, entry.spec)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for in-progress trigger functions.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) enqueue(jobType jobqueue.JobType) {
	if _, err := s.queue.EnqueueJob(jobType, nil); err != nil {
		log.Errorf("[Scheduler] Failed to enqueue %s: %v", jobType, err)
	}
}
