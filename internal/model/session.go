package model

import "time"

// Session binds one conversation to one document index. The fingerprint
// never changes after creation.
type Session struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Fingerprint string    `gorm:"size:64;not null;index" json:"fingerprint"`
	Locator     string    `gorm:"size:1024;not null" json:"locator"`
	Subject     string    `gorm:"size:128;index" json:"subject"`
	CreatedAt   time.Time `json:"created_at"`
}
