package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeGenerate      JobType = "generate"
	JobTypeQuotaReset    JobType = "quota_reset"
	JobTypeCleanupStale  JobType = "cleanup_stale"
	JobTypeBillingResync JobType = "billing_resync"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// GenerateJobPayload carries the reference to a reserved Generation into the
// worker. The quota slot is already consumed when this payload is enqueued.
type GenerateJobPayload struct {
	GenerationID   uint   `json:"generation_id"`
	GenerationUUID string `json:"generation_uuid"`
	WebsiteID      uint   `json:"website_id"`
	PageBudget     int    `json:"page_budget"`
}

// ToMap converts the payload to a map for storage
func (p GenerateJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"generation_id":   p.GenerationID,
		"generation_uuid": p.GenerationUUID,
		"website_id":      p.WebsiteID,
		"page_budget":     p.PageBudget,
	}
}

// GenerateJobPayloadFromMap creates a payload from a map
func GenerateJobPayloadFromMap(data map[string]interface{}) (*GenerateJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload GenerateJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
