package handlers

import (
	"net/http"

	"github.com/go-authgate/oauthcore/internal/middleware"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthorizationHandler serves the two phases of the authorization endpoint.
// The consent UI itself lives outside this service: it calls GET to learn
// what to show and POST to submit the user's decision.
type AuthorizationHandler struct {
	authorizationService *services.AuthorizationService
	logger               *zap.Logger
}

func NewAuthorizationHandler(
	as *services.AuthorizationService,
	logger *zap.Logger,
) *AuthorizationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthorizationHandler{
		authorizationService: as,
		logger:               logger.Named("authorize"),
	}
}

type authorizeParams struct {
	ResponseType string `form:"response_type" json:"response_type"`
	ClientID     string `form:"client_id"     json:"client_id"`
	RedirectURI  string `form:"redirect_uri"  json:"redirect_uri"`
	Scope        string `form:"scope"         json:"scope"`
}

func (p authorizeParams) toRequest() services.AuthorizeRequest {
	return services.AuthorizeRequest{
		ResponseType: p.ResponseType,
		ClientID:     p.ClientID,
		RedirectURI:  p.RedirectURI,
		Scope:        p.Scope,
	}
}

type decisionParams struct {
	authorizeParams
	State               string `form:"state"                 json:"state"`
	CodeChallenge       string `form:"code_challenge"        json:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method" json:"code_challenge_method"`
	Approved            bool   `form:"approved"              json:"approved"`
}

// clientResponse is the public view of a client shown on a consent screen.
type clientResponse struct {
	ClientID    string            `json:"client_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	WebsiteURL  string            `json:"website_url,omitempty"`
	LogoURL     string            `json:"logo_url,omitempty"`
	ClientType  models.ClientType `json:"client_type"`
}

func newClientResponse(c *models.OAuthClient) clientResponse {
	return clientResponse{
		ClientID:    c.ClientID,
		Name:        c.Name,
		Description: c.Description,
		WebsiteURL:  c.WebsiteURL,
		LogoURL:     c.LogoURL,
		ClientType:  c.ClientType,
	}
}

// Describe handles GET /oauth2/authorize.
func (h *AuthorizationHandler) Describe(c *gin.Context) {
	var params authorizeParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             services.ErrInvalidRequest.Error(),
			"error_description": "Malformed authorization request.",
		})
		return
	}

	desc, err := h.authorizationService.Describe(c.Request.Context(), params.toRequest())
	if err != nil {
		writeOAuthError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client":        newClientResponse(desc.Client),
		"redirect_uri":  desc.RedirectURI,
		"scopes":        desc.Scopes,
		"pkce_required": desc.PKCERequired,
		"csrf_token":    middleware.GetCSRFToken(c),
	})
}

// Decide handles POST /oauth2/authorize. The body may be JSON or
// form-encoded; the response always carries the redirect target rather
// than issuing the redirect itself.
func (h *AuthorizationHandler) Decide(c *gin.Context) {
	var params decisionParams
	if err := c.ShouldBind(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             services.ErrInvalidRequest.Error(),
			"error_description": "Malformed authorization decision.",
		})
		return
	}

	redirectTo, err := h.authorizationService.Decide(c.Request.Context(), services.DecisionRequest{
		AuthorizeRequest:    params.toRequest(),
		State:               params.State,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		Approved:            params.Approved,
		UserID:              c.GetString(middleware.SessionUserID),
		OrganizationID:      middleware.GetOrganizationID(c),
	})
	if err != nil {
		writeOAuthError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"redirect_uri": redirectTo})
}
