package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Website holds the crawl configuration for one site. It is read-only input
// for the generation worker; create/update/delete is owned by the website
// management service.
type Website struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	UserID          uint           `gorm:"not null;index" json:"user_id"`
	URL             string         `gorm:"type:varchar(500);not null" json:"url" validate:"required,url,max=500"`
	Name            string         `gorm:"type:varchar(255)" json:"name" validate:"max=255"`
	IncludePatterns string         `gorm:"type:text" json:"include_patterns"`
	ExcludePatterns string         `gorm:"type:text" json:"exclude_patterns"`
	MaxPages        int            `gorm:"not null;default:100" json:"max_pages" validate:"min=1"`
	UseHeadless     bool           `gorm:"default:false" json:"use_headless"`
	TimeoutSeconds  int            `gorm:"not null;default:300" json:"timeout_seconds" validate:"min=1"`
	IsActive        bool           `gorm:"default:true;index" json:"is_active"`
	LastGeneratedAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_generated_at,omitempty"`
	GenerationCount int            `gorm:"not null;default:0" json:"generation_count"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (w *Website) Validate() error {
	v := validator.New()

	return v.Struct(w)
}

// DisplayName returns the user-facing label for notification emails.
func (w *Website) DisplayName() string {
	if w.Name != "" {
		return w.Name
	}
	return w.URL
}

// Timeout returns the crawl timeout as a duration.
func (w *Website) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}
