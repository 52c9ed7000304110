package models

import "time"

const (
	GenerationStatusPending    = "pending"
	GenerationStatusProcessing = "processing"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
)

// Generation is one asynchronous crawl/extract/package run for a website.
// Created in pending state by the orchestrator inside the quota reservation
// transaction; afterwards mutated only by the worker that owns it.
type Generation struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UUID            string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"uuid"`
	UserID          uint       `gorm:"not null;index" json:"user_id"`
	WebsiteID       uint       `gorm:"not null;index" json:"website_id"`
	Status          string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	PageBudget      int        `gorm:"not null;default:0" json:"page_budget"`
	TotalPages      int        `gorm:"not null;default:0" json:"total_pages"`
	TotalFiles      int        `gorm:"not null;default:0" json:"total_files"`
	FilePath        string     `gorm:"type:varchar(500)" json:"file_path,omitempty"`
	FileSize        int64      `gorm:"not null;default:0" json:"file_size"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount      int        `gorm:"not null;default:0" json:"retry_count"`
	JobID           string     `gorm:"type:varchar(36);index" json:"job_id,omitempty"`
	DurationSeconds float64    `gorm:"type:decimal(10,2);default:0" json:"duration_seconds"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	StartedAt       *time.Time `gorm:"type:timestamp;default:null" json:"started_at,omitempty"`
	CompletedAt     *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
}

// GenerationInFlightStatuses are the states that occupy the per-website
// single-run slot.
var GenerationInFlightStatuses = []string{GenerationStatusPending, GenerationStatusProcessing}

// IsTerminal reports whether the generation reached a final state.
func (g *Generation) IsTerminal() bool {
	return g.Status == GenerationStatusCompleted || g.Status == GenerationStatusFailed
}
