package model

import (
	"strings"
	"time"
)

// Account represents a registered account, keyed by its normalized identity
// provider subject.
type Account struct {
	AccountID string    `db:"account_id" json:"account_id"`
	Username  string    `db:"username" json:"username"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NormalizeAccountID rewrites an identity provider subject such as
// "auth0|abc-123" into the stable storage id "auth0_abc_123".
func NormalizeAccountID(subject string) string {
	return strings.Map(func(r rune) rune {
		if r == '|' || r == '-' {
			return '_'
		}
		return r
	}, subject)
}
