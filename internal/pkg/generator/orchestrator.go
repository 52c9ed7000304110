package generator

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/llmready/llmready/app/models"
	"github.com/llmready/llmready/internal/pkg/jobqueue"
	"github.com/llmready/llmready/internal/pkg/quota"
)

var (
	ErrWebsiteNotFound = errors.New("website not found")
	ErrWebsiteInactive = errors.New("website is not active")
)

// Orchestrator is the synchronous front door for generation requests: it
// validates the website, reserves a quota slot (which creates the pending
// Generation in the same transaction) and enqueues the job.
type Orchestrator struct {
	db     *gorm.DB
	ledger *quota.Ledger
	queue  *jobqueue.Queue
}

func NewOrchestrator(db *gorm.DB, ledger *quota.Ledger, queue *jobqueue.Queue) *Orchestrator {
	return &Orchestrator{db: db, ledger: ledger, queue: queue}
}

// Start validates and reserves, then enqueues the generation job. Quota and
// entitlement errors come back unwrapped from the ledger so the API layer
// can map them; everything after the reservation runs out-of-band.
func (o *Orchestrator) Start(ctx context.Context, userID, websiteID uint, pageBudget int) (*models.Generation, error) {
	var website models.Website
	err := o.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", websiteID, userID).
		First(&website).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWebsiteNotFound
		}
		return nil, err
	}
	if !website.IsActive {
		return nil, ErrWebsiteInactive
	}

	if pageBudget <= 0 {
		pageBudget = website.MaxPages
	}

	gen, err := o.ledger.Reserve(ctx, userID, websiteID, pageBudget)
	if err != nil {
		return nil, err
	}

	payload := jobqueue.GenerateJobPayload{
		GenerationID:   gen.ID,
		GenerationUUID: gen.UUID,
		WebsiteID:      websiteID,
		PageBudget:     gen.PageBudget,
	}
	job, err := o.queue.EnqueueJob(jobqueue.JobTypeGenerate, payload.ToMap())
	if err != nil {
		// The reservation stands; the abandoned-pending watchdog fails
		// this record if no job ever picks it up.
		return nil, fmt.Errorf("failed to enqueue generation job: %w", err)
	}

	gen.JobID = job.ID
	if err := o.db.WithContext(ctx).Model(gen).UpdateColumn("job_id", job.ID).Error; err != nil {
		return nil, err
	}

	return gen, nil
}

// Status loads a generation for the owning user.
func (o *Orchestrator) Status(ctx context.Context, userID, generationID uint) (*models.Generation, error) {
	var gen models.Generation
	err := o.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", generationID, userID).
		First(&gen).Error
	if err != nil {
		return nil, err
	}
	return &gen, nil
}
