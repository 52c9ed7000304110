package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/llmready/llmready/app/models"
	"github.com/llmready/llmready/internal/pkg/env"
	"github.com/llmready/llmready/internal/pkg/jobqueue"
)

// Notifier delivers generation outcome notifications. Email delivery lives
// behind this boundary; failures to notify never fail the generation.
type Notifier interface {
	GenerationCompleted(user *models.User, website *models.Website, gen *models.Generation) error
	GenerationFailed(user *models.User, website *models.Website, reason string) error
}

// WorkerConfig carries the tunables for the generation job body.
type WorkerConfig struct {
	CrawlerBin   string
	StoragePath  string
	WorkDir      string
	CrawlRetries int
}

// Worker runs the generation job body: crawl, validate, package, finalize.
// It owns the Generation record while processing; the pending-state guard
// makes redelivered jobs a no-op, so at-least-once delivery cannot process
// a generation twice or double-charge quota.
type Worker struct {
	db       *gorm.DB
	cfg      WorkerConfig
	notifier Notifier
}

func NewWorker(db *gorm.DB, cfg WorkerConfig, notifier Notifier) *Worker {
	if cfg.CrawlerBin == "" {
		cfg.CrawlerBin = "mdream-crawl"
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = "./storage/generations"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.CrawlRetries <= 0 {
		cfg.CrawlRetries = 2
	}
	return &Worker{db: db, cfg: cfg, notifier: notifier}
}

// NewWorkerFromEnv builds a worker with env-provided settings.
func NewWorkerFromEnv(db *gorm.DB, notifier Notifier) *Worker {
	return NewWorker(db, WorkerConfig{
		CrawlerBin:   env.GetEnv("CRAWLER_BIN", "mdream-crawl"),
		StoragePath:  env.GetEnv("STORAGE_PATH", "./storage/generations"),
		WorkDir:      env.GetEnv("WORK_DIR", os.TempDir()),
		CrawlRetries: env.GetEnvInt("CRAWL_RETRIES", 2),
	}, notifier)
}

// HandleJob adapts Process to the job queue handler signature.
func (w *Worker) HandleJob(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.GenerateJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse generate payload: %w", err)
	}
	return w.Process(ctx, payload.GenerationID)
}

// Process runs one generation end to end. It returns an error only for
// infrastructure problems worth a queue-level retry; a generation that
// reaches failed state is done and must not be redelivered into a rerun.
func (w *Worker) Process(ctx context.Context, generationID uint) error {
	var gen models.Generation
	if err := w.db.WithContext(ctx).First(&gen, generationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Generator] Generation %d not found, skipping", generationID)
			return nil
		}
		return err
	}

	// Redelivery guard: only a pending generation may be claimed.
	if gen.IsTerminal() {
		log.Infof("[Generator] Generation %d already %s, skipping redelivered job", gen.ID, gen.Status)
		return nil
	}
	if gen.Status != models.GenerationStatusPending {
		log.Infof("[Generator] Generation %d is %s, claimed elsewhere", gen.ID, gen.Status)
		return nil
	}

	var website models.Website
	var user models.User
	if err := w.db.WithContext(ctx).First(&website, gen.WebsiteID).Error; err != nil {
		w.markFailed(&gen, "website configuration no longer exists")
		return nil
	}
	if err := w.db.WithContext(ctx).First(&user, gen.UserID).Error; err != nil {
		w.markFailed(&gen, "owning account no longer exists")
		return nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     models.GenerationStatusProcessing,
		"started_at": &now,
	}
	if err := w.db.Model(&gen).Updates(updates).Error; err != nil {
		return err
	}
	gen.Status = models.GenerationStatusProcessing
	gen.StartedAt = &now

	log.Infof("[Generator] Starting generation %d for %s", gen.ID, website.URL)

	tempDir := filepath.Join(w.cfg.WorkDir, "llmready_gen_"+gen.UUID)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		w.failAndNotify(&gen, &user, &website, "could not prepare working directory")
		return nil
	}
	defer os.RemoveAll(tempDir)

	opts := CrawlOptions{
		URL:       website.URL,
		Include:   website.IncludePatterns,
		Exclude:   website.ExcludePatterns,
		MaxPages:  gen.PageBudget,
		Headless:  website.UseHeadless,
		OutputDir: tempDir,
	}

	if err := w.crawlWithRetry(ctx, &gen, website.Timeout(), opts); err != nil {
		if errors.Is(err, ErrCrawlTimeout) {
			w.failAndNotify(&gen, &user, &website,
				fmt.Sprintf("crawl timed out after %d seconds", website.TimeoutSeconds))
		} else {
			w.failAndNotify(&gen, &user, &website, sanitizeError(err))
		}
		return nil
	}

	if err := ValidateOutput(tempDir); err != nil {
		w.failAndNotify(&gen, &user, &website, "the crawler produced no content for this website")
		return nil
	}

	totalPages := CountPages(tempDir)
	totalFiles, _, err := WriteManifest(tempDir)
	if err != nil {
		w.failAndNotify(&gen, &user, &website, "failed to package generated files")
		return nil
	}

	zipPath := filepath.Join(w.cfg.StoragePath, gen.UUID+".zip")
	fileSize, err := CreateArchive(tempDir, zipPath)
	if err != nil {
		w.failAndNotify(&gen, &user, &website, "failed to package generated files")
		return nil
	}

	completed := time.Now()
	duration := completed.Sub(*gen.StartedAt).Seconds()
	err = w.db.Model(&gen).Updates(map[string]interface{}{
		"status":           models.GenerationStatusCompleted,
		"completed_at":     &completed,
		"file_path":        zipPath,
		"file_size":        fileSize,
		"total_files":      totalFiles,
		"total_pages":      totalPages,
		"duration_seconds": duration,
	}).Error
	if err != nil {
		return err
	}
	gen.Status = models.GenerationStatusCompleted
	gen.FilePath = zipPath
	gen.FileSize = fileSize
	gen.TotalFiles = totalFiles
	gen.TotalPages = totalPages

	if err := w.db.Model(&website).Updates(map[string]interface{}{
		"last_generated_at": &completed,
		"generation_count":  gorm.Expr("generation_count + 1"),
	}).Error; err != nil {
		log.Errorf("[Generator] Failed to update website metadata for %d: %v", website.ID, err)
	}

	log.Infof("[Generator] Generation %d completed: %d pages, %d files, %d bytes",
		gen.ID, totalPages, totalFiles, fileSize)

	if w.notifier != nil {
		if err := w.notifier.GenerationCompleted(&user, &website, &gen); err != nil {
			log.Errorf("[Generator] Failed to send completion notification: %v", err)
		}
	}
	return nil
}

// crawlWithRetry runs the crawler with bounded in-job retries for transient
// failures. Timeouts are terminal immediately; queue-level redelivery is a
// crash safety net, not a substitute for these retries.
func (w *Worker) crawlWithRetry(ctx context.Context, gen *models.Generation, timeout time.Duration, opts CrawlOptions) error {
	var lastErr error
	attempts := 1 + w.cfg.CrawlRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		crawlCtx, cancel := context.WithTimeout(ctx, timeout)
		err := RunCrawler(crawlCtx, w.cfg.CrawlerBin, opts)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCrawlTimeout) {
			return err
		}
		if attempt < attempts {
			log.Warnf("[Generator] Crawl attempt %d/%d for generation %d failed: %v",
				attempt, attempts, gen.ID, err)
			_ = w.db.Model(gen).UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return lastErr
}

func (w *Worker) failAndNotify(gen *models.Generation, user *models.User, website *models.Website, reason string) {
	w.markFailed(gen, reason)
	if w.notifier != nil {
		if err := w.notifier.GenerationFailed(user, website, reason); err != nil {
			log.Errorf("[Generator] Failed to send failure notification: %v", err)
		}
	}
}

// markFailed stamps the terminal failed state with a short, user-safe
// message. The quota slot stays consumed.
func (w *Worker) markFailed(gen *models.Generation, reason string) {
	updates := map[string]interface{}{
		"status":        models.GenerationStatusFailed,
		"error_message": reason,
	}
	if gen.StartedAt != nil {
		updates["duration_seconds"] = time.Since(*gen.StartedAt).Seconds()
	}
	if err := w.db.Model(gen).Updates(updates).Error; err != nil {
		log.Errorf("[Generator] Failed to mark generation %d failed: %v", gen.ID, err)
		return
	}
	gen.Status = models.GenerationStatusFailed
	gen.ErrorMessage = reason
	log.Errorf("[Generator] Generation %d failed: %s", gen.ID, reason)
}

// sanitizeError reduces an internal error to a short single-line message
// safe to show the user; full detail stays in the logs.
func sanitizeError(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
