package dto

import "time"

// TokenRequest payload for exchanging an intake API key.
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// TokenResponse carries the issued service token.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}
