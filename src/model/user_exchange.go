package model

import "time"

// UserExchange stores the encrypted exchange credentials of a user.
type UserExchange struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	AccessKeyHash string    `gorm:"column:access_key;type:text" json:"-"`
	SecretKeyHash string    `gorm:"column:secret_key;type:text" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	User *User `gorm:"constraint:OnDelete:CASCADE" json:"user,omitempty"`
}
