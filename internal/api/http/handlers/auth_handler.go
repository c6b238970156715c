package handlers

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/orkdesk/ticket-resolver/internal/api/dto"
	"github.com/orkdesk/ticket-resolver/internal/auth"
	"github.com/orkdesk/ticket-resolver/internal/config"
	apperrors "github.com/orkdesk/ticket-resolver/pkg/util"
)

// AuthHandler exchanges intake API keys for service tokens.
type AuthHandler struct {
	tokens *auth.TokenManager
	cfg    config.AuthConfig
}

// NewAuthHandler constructs handler.
func NewAuthHandler(tokens *auth.TokenManager, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{tokens: tokens, cfg: cfg}
}

// Token POST /auth/token.
func (h *AuthHandler) Token(c *fiber.Ctx) error {
	var req dto.TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.APIKey == "" {
		return apperrors.NewValidationError("api_key required", nil)
	}
	if !h.verify(req.APIKey) {
		return apperrors.NewUnauthorized("invalid api key")
	}

	token, expiresAt, err := h.tokens.GenerateToken("intake")
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.JSON(dto.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	})
}

// verify checks the presented key against the configured hash, falling back
// to a constant-time plaintext comparison when only the raw key is set.
func (h *AuthHandler) verify(key string) bool {
	if h.cfg.IntakeAPIKeyHash != "" {
		return auth.CompareAPIKey(h.cfg.IntakeAPIKeyHash, key) == nil
	}
	if h.cfg.IntakeAPIKey != "" {
		return subtle.ConstantTimeCompare([]byte(h.cfg.IntakeAPIKey), []byte(key)) == 1
	}
	return false
}
