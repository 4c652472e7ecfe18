package domain

import (
	"time"
)

// AccountLink maps an external payment-processor customer id to an
// internal user. The link is written during checkout, before the first
// webhook for that customer can arrive.
type AccountLink struct {
	ExternalCustomerID string    `gorm:"primaryKey;type:text" json:"external_customer_id"`
	UserID             int64     `gorm:"not null;uniqueIndex" json:"user_id"`
	CreatedAt          time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (AccountLink) TableName() string { return "account_links" }
