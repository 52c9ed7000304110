package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
	UserStatusDisabled = "disabled"
)

// User is the owner record for websites and generations. Authentication and
// profile management live outside this service; we only need identity and a
// delivery address for notifications.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email     string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Status    string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// DisplayName returns the name to address the user with in emails.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
