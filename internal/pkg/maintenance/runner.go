package maintenance

import (
	"context"
	"os"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/llmready/llmready/app/models"
	"github.com/llmready/llmready/internal/pkg/env"
	"github.com/llmready/llmready/internal/pkg/jobqueue"
)

// Resyncer triggers a full billing-state resync. The billing service
// implements it; maintenance only schedules the work.
type Resyncer interface {
	Resync(ctx context.Context) (int, error)
}

// Config carries the retention and watchdog windows for periodic jobs.
type Config struct {
	FailedRetention    time.Duration
	CompletedRetention time.Duration
	MaxJobDuration     time.Duration
}

// ConfigFromEnv reads the retention windows with production defaults.
func ConfigFromEnv() Config {
	return Config{
		FailedRetention:    time.Duration(env.GetEnvInt("FAILED_RETENTION_DAYS", 30)) * 24 * time.Hour,
		CompletedRetention: time.Duration(env.GetEnvInt("COMPLETED_RETENTION_DAYS", 90)) * 24 * time.Hour,
		MaxJobDuration:     time.Duration(env.GetEnvInt("MAX_JOB_DURATION_MINUTES", 60)) * time.Minute,
	}
}

// Runner executes the periodic maintenance jobs: quota reset, stale
// generation cleanup and billing resync. Every job is idempotent so a crashed
// run can simply be repeated.
type Runner struct {
	db       *gorm.DB
	cfg      Config
	resyncer Resyncer
}

func NewRunner(db *gorm.DB, cfg Config, resyncer Resyncer) *Runner {
	return &Runner{db: db, cfg: cfg, resyncer: resyncer}
}

// HandleQuotaReset adapts ResetQuotas to the job queue handler signature.
func (r *Runner) HandleQuotaReset(ctx context.Context, _ *jobqueue.Job) error {
	_, err := r.ResetQuotas(ctx)
	return err
}

// HandleCleanup adapts CleanupStale to the job queue handler signature.
func (r *Runner) HandleCleanup(ctx context.Context, _ *jobqueue.Job) error {
	_, err := r.CleanupStale(ctx)
	return err
}

// HandleBillingResync adapts the billing resync to the job queue handler
// signature.
func (r *Runner) HandleBillingResync(ctx context.Context, _ *jobqueue.Job) error {
	if r.resyncer == nil {
		return nil
	}
	_, err := r.resyncer.Resync(ctx)
	return err
}

// ResetQuotas zeroes usage for every subscription whose billing period has
// elapsed and advances the period bounds. The elapsed-period guard makes the
// job idempotent: a second run in the same period matches no rows.
func (r *Runner) ResetQuotas(ctx context.Context) (int, error) {
	now := time.Now()

	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("current_period_end IS NOT NULL AND current_period_end < ?", now).
		Find(&subs).Error
	if err != nil {
		return 0, err
	}

	reset := 0
	for i := range subs {
		sub := &subs[i]
		start := *sub.CurrentPeriodEnd
		end := start.AddDate(0, 1, 0)
		// Catch up if the job missed whole periods.
		for !end.After(now) {
			start = end
			end = start.AddDate(0, 1, 0)
		}
		err := r.db.WithContext(ctx).Model(sub).Updates(map[string]interface{}{
			"generations_used":     0,
			"current_period_start": &start,
			"current_period_end":   &end,
		}).Error
		if err != nil {
			log.Errorf("[Maintenance] Quota reset failed for subscription %d: %v", sub.ID, err)
			continue
		}
		reset++
	}

	// Subscriptions that never got period bounds (free plan, no checkout)
	// are anchored now so the next run can roll them over.
	err = r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("current_period_end IS NULL").
		Updates(map[string]interface{}{
			"current_period_start": now,
			"current_period_end":   now.AddDate(0, 1, 0),
		}).Error
	if err != nil {
		log.Errorf("[Maintenance] Failed to anchor unbounded periods: %v", err)
	}

	if reset > 0 {
		log.Infof("[Maintenance] Reset quota for %d subscriptions", reset)
	}
	return reset, nil
}

// CleanupStale enforces the retention policy and the watchdogs: failed
// generations past retention are removed entirely, completed ones lose only
// their archive, and generations stuck in pending or processing past the
// maximum job duration are failed so their websites are unblocked.
func (r *Runner) CleanupStale(ctx context.Context) (int, error) {
	touched := 0

	n, err := r.expireStuckProcessing(ctx)
	if err != nil {
		return touched, err
	}
	touched += n

	n, err = r.expireAbandonedPending(ctx)
	if err != nil {
		return touched, err
	}
	touched += n

	n, err = r.purgeFailed(ctx)
	if err != nil {
		return touched, err
	}
	touched += n

	n, err = r.expireCompletedArchives(ctx)
	if err != nil {
		return touched, err
	}
	touched += n

	if touched > 0 {
		log.Infof("[Maintenance] Cleanup touched %d generations", touched)
	}
	return touched, nil
}

func (r *Runner) expireStuckProcessing(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.cfg.MaxJobDuration)

	var gens []models.Generation
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ?",
			models.GenerationStatusProcessing, cutoff).
		Find(&gens).Error
	if err != nil {
		return 0, err
	}

	for i := range gens {
		gen := &gens[i]
		err := r.db.WithContext(ctx).Model(gen).Updates(map[string]interface{}{
			"status":        models.GenerationStatusFailed,
			"error_message": "generation exceeded the maximum processing time",
		}).Error
		if err != nil {
			log.Errorf("[Maintenance] Failed to expire generation %d: %v", gen.ID, err)
			continue
		}
		log.Warnf("[Maintenance] Generation %d stuck in processing since %s, marked failed",
			gen.ID, gen.StartedAt.Format(time.RFC3339))
	}
	return len(gens), nil
}

// expireAbandonedPending fails pending generations that no worker ever
// claimed: an enqueue that errored after the reservation, a crash between
// reservation and enqueue, or a job record that expired in the queue. Without
// this the orphan holds the per-website single-run slot forever.
func (r *Runner) expireAbandonedPending(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.cfg.MaxJobDuration)

	var gens []models.Generation
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.GenerationStatusPending, cutoff).
		Find(&gens).Error
	if err != nil {
		return 0, err
	}

	for i := range gens {
		gen := &gens[i]
		err := r.db.WithContext(ctx).Model(gen).Updates(map[string]interface{}{
			"status":        models.GenerationStatusFailed,
			"error_message": "generation was never picked up for processing",
		}).Error
		if err != nil {
			log.Errorf("[Maintenance] Failed to expire abandoned generation %d: %v", gen.ID, err)
			continue
		}
		log.Warnf("[Maintenance] Generation %d abandoned in pending since %s, marked failed",
			gen.ID, gen.CreatedAt.Format(time.RFC3339))
	}
	return len(gens), nil
}

func (r *Runner) purgeFailed(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.cfg.FailedRetention)

	var gens []models.Generation
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.GenerationStatusFailed, cutoff).
		Find(&gens).Error
	if err != nil {
		return 0, err
	}

	purged := 0
	for i := range gens {
		gen := &gens[i]
		removeArtifact(gen.FilePath)
		if err := r.db.WithContext(ctx).Delete(gen).Error; err != nil {
			log.Errorf("[Maintenance] Failed to delete generation %d: %v", gen.ID, err)
			continue
		}
		purged++
	}
	return purged, nil
}

// expireCompletedArchives drops the archive of old completed generations but
// keeps the record, so history and usage metrics survive the artifact.
func (r *Runner) expireCompletedArchives(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.cfg.CompletedRetention)

	var gens []models.Generation
	err := r.db.WithContext(ctx).
		Where("status = ? AND completed_at IS NOT NULL AND completed_at < ? AND file_path <> ''",
			models.GenerationStatusCompleted, cutoff).
		Find(&gens).Error
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range gens {
		gen := &gens[i]
		removeArtifact(gen.FilePath)
		err := r.db.WithContext(ctx).Model(gen).Updates(map[string]interface{}{
			"file_path": "",
			"file_size": 0,
		}).Error
		if err != nil {
			log.Errorf("[Maintenance] Failed to expire archive for generation %d: %v", gen.ID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

func removeArtifact(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("[Maintenance] Failed to remove artifact %s: %v", path, err)
	}
}
