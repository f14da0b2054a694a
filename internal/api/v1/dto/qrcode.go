package dto

import "time"

// QRCodeCreateRequest asks for a new dynamic QR link.
type QRCodeCreateRequest struct {
	TargetURL string `json:"target_url" validate:"required,max=2048"`
}

// QRCodeUpdateRequest retargets an existing link.
type QRCodeUpdateRequest struct {
	TargetURL string `json:"target_url" validate:"required,max=2048"`
}

// QRCodeResponse is the public view of a dynamic QR link.
type QRCodeResponse struct {
	ID             string     `json:"id"`
	ServerURL      string     `json:"server_url"`
	TargetURL      string     `json:"target_url"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
