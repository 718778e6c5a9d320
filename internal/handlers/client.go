package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/services"
	"github.com/go-authgate/oauthcore/internal/store"
	"github.com/go-authgate/oauthcore/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ClientHandler is the admin API over the client registry.
type ClientHandler struct {
	clientService *services.ClientService
	logger        *zap.Logger
}

func NewClientHandler(cs *services.ClientService, logger *zap.Logger) *ClientHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientHandler{clientService: cs, logger: logger.Named("admin")}
}

// adminClientResponse is the admin view of a client. The secret hash is
// never exposed; only its display prefix is.
type adminClientResponse struct {
	ClientID       string            `json:"client_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	WebsiteURL     string            `json:"website_url,omitempty"`
	LogoURL        string            `json:"logo_url,omitempty"`
	ClientType     models.ClientType `json:"client_type"`
	RedirectURIs   []string          `json:"redirect_uris"`
	Scopes         []string          `json:"scopes"`
	SecretPrefix   string            `json:"secret_prefix,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	CreatedBy      string            `json:"created_by,omitempty"`
	IsActive       bool              `json:"is_active"`
	RevokedAt      *time.Time        `json:"revoked_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func newAdminClientResponse(c *models.OAuthClient) adminClientResponse {
	return adminClientResponse{
		ClientID:       c.ClientID,
		Name:           c.Name,
		Description:    c.Description,
		WebsiteURL:     c.WebsiteURL,
		LogoURL:        c.LogoURL,
		ClientType:     c.ClientType,
		RedirectURIs:   c.RedirectURIs,
		Scopes:         c.Scopes,
		SecretPrefix:   c.SecretPrefix,
		OrganizationID: c.OrganizationID,
		CreatedBy:      c.CreatedBy,
		IsActive:       c.IsUsable(),
		RevokedAt:      c.RevokedAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

type createClientBody struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	WebsiteURL     string   `json:"website_url"`
	LogoURL        string   `json:"logo_url"`
	ClientType     string   `json:"client_type"`
	RedirectURIs   []string `json:"redirect_uris"`
	Scopes         []string `json:"scopes"`
	OrganizationID string   `json:"organization_id"`
}

type updateClientBody struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	WebsiteURL   *string  `json:"website_url"`
	LogoURL      *string  `json:"logo_url"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
}

// ListClients handles GET /admin/clients.
func (h *ClientHandler) ListClients(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	params := store.NewPaginationParams(page, pageSize, c.Query("search"))

	clients, pagination, err := h.clientService.ListClients(c.Request.Context(), params)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]adminClientResponse, 0, len(clients))
	for i := range clients {
		out = append(out, newAdminClientResponse(&clients[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"clients":    out,
		"pagination": pagination,
	})
}

// CreateClient handles POST /admin/clients. The secret of a confidential
// client is returned in this response only.
func (h *ClientHandler) CreateClient(c *gin.Context) {
	var body createClientBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	created, err := h.clientService.CreateClient(c.Request.Context(), services.CreateClientRequest{
		Name:           body.Name,
		Description:    body.Description,
		WebsiteURL:     body.WebsiteURL,
		LogoURL:        body.LogoURL,
		ClientType:     models.ClientType(body.ClientType),
		RedirectURIs:   body.RedirectURIs,
		Scopes:         body.Scopes,
		OrganizationID: body.OrganizationID,
		CreatedBy:      util.GetUserIDFromContext(c.Request.Context()),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{"client": newAdminClientResponse(created.Client)}
	if created.ClientSecret != "" {
		resp["client_secret"] = created.ClientSecret
	}
	c.JSON(http.StatusCreated, resp)
}

// GetClient handles GET /admin/clients/:client_id.
func (h *ClientHandler) GetClient(c *gin.Context) {
	client, err := h.clientService.GetClient(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": newAdminClientResponse(client)})
}

// UpdateClient handles PATCH /admin/clients/:client_id. Absent fields are
// left unchanged.
func (h *ClientHandler) UpdateClient(c *gin.Context) {
	var body updateClientBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	client, err := h.clientService.UpdateClient(
		ctx,
		c.Param("client_id"),
		util.GetUserIDFromContext(ctx),
		services.UpdateClientRequest{
			Name:         body.Name,
			Description:  body.Description,
			WebsiteURL:   body.WebsiteURL,
			LogoURL:      body.LogoURL,
			RedirectURIs: body.RedirectURIs,
			Scopes:       body.Scopes,
		},
	)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": newAdminClientResponse(client)})
}

// RevokeClient handles DELETE /admin/clients/:client_id. Clients are never
// removed; revocation deactivates the client and every token it holds.
func (h *ClientHandler) RevokeClient(c *gin.Context) {
	ctx := c.Request.Context()
	result, err := h.clientService.RevokeClient(ctx, c.Param("client_id"), util.GetUserIDFromContext(ctx))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"revoked_access_tokens":  result.AccessTokens,
		"revoked_refresh_tokens": result.RefreshTokens,
	})
}

// RotateSecret handles POST /admin/clients/:client_id/rotate-secret.
func (h *ClientHandler) RotateSecret(c *gin.Context) {
	ctx := c.Request.Context()
	rotated, err := h.clientService.RotateSecret(ctx, c.Param("client_id"), util.GetUserIDFromContext(ctx))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"client":        newAdminClientResponse(rotated.Client),
		"client_secret": rotated.ClientSecret,
	})
}

// RevokeTokens handles POST /admin/clients/:client_id/revoke-tokens.
func (h *ClientHandler) RevokeTokens(c *gin.Context) {
	ctx := c.Request.Context()
	result, err := h.clientService.RevokeAllTokens(ctx, c.Param("client_id"), util.GetUserIDFromContext(ctx))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"revoked_access_tokens":  result.AccessTokens,
		"revoked_refresh_tokens": result.RefreshTokens,
	})
}

func (h *ClientHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrClientNotFound):
		writeAPIError(c, http.StatusNotFound, err)
	case errors.Is(err, services.ErrClientRevoked),
		errors.Is(err, services.ErrPublicClientSecret):
		writeAPIError(c, http.StatusConflict, err)
	case errors.Is(err, services.ErrClientNameRequired),
		errors.Is(err, services.ErrInvalidClientType),
		errors.Is(err, services.ErrRedirectURIRequired),
		errors.Is(err, services.ErrInvalidRedirectURI),
		errors.Is(err, services.ErrScopeRequired),
		errors.Is(err, services.ErrUnknownScope):
		writeAPIError(c, http.StatusBadRequest, err)
	default:
		h.logger.Error("client operation failed",
			zap.String("client_id", c.Param("client_id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
