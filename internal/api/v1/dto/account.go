package dto

import "time"

// AccountSignupRequest is the post-registration signup payload.
type AccountSignupRequest struct {
	Username string `json:"username" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email"`
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
