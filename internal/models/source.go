package models

import "time"

// Source represents a configured external catalog provider
// Rows are seeded by admin tooling; sync only touches LastChecked and UpdatedAt
type Source struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Domain      string     `json:"domain" db:"domain"`
	Enabled     bool       `json:"enabled" db:"enabled"`
	Verified    bool       `json:"verified" db:"verified"`
	TrustLevel  string     `json:"trustLevel" db:"trust_level"`
	LastChecked *time.Time `json:"lastChecked,omitempty" db:"last_checked"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}
