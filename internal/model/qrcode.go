package model

import "time"

// DynamicQR maps a short server key to a target URL. Each record is owned by
// exactly one account and counts against that account's tier ceiling.
type DynamicQR struct {
	ID             string     `db:"id" json:"id"`
	AccountID      string     `db:"account_id" json:"account_id"`
	ServerURL      string     `db:"server_url" json:"server_url"`
	TargetURL      string     `db:"target_url" json:"target_url"`
	AccessCount    int        `db:"access_count" json:"access_count"`
	LastAccessedAt *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
