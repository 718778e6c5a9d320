package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/middleware"
	"github.com/go-authgate/oauthcore/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TokenHandler struct {
	tokenService *services.TokenService
	config       *config.Config
	logger       *zap.Logger
}

func NewTokenHandler(
	ts *services.TokenService,
	cfg *config.Config,
	logger *zap.Logger,
) *TokenHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenHandler{
		tokenService: ts,
		config:       cfg,
		logger:       logger.Named("token"),
	}
}

// tokenParams is the union of the parameters of every supported grant.
type tokenParams struct {
	GrantType    string `form:"grant_type"    json:"grant_type"`
	Code         string `form:"code"          json:"code"`
	RedirectURI  string `form:"redirect_uri"  json:"redirect_uri"`
	CodeVerifier string `form:"code_verifier" json:"code_verifier"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
	ClientID     string `form:"client_id"     json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
}

type revokeParams struct {
	Token         string `form:"token"           json:"token"`
	TokenTypeHint string `form:"token_type_hint" json:"token_type_hint"`
	ClientID      string `form:"client_id"       json:"client_id"`
	ClientSecret  string `form:"client_secret"   json:"client_secret"`
}

// Token godoc
//
//	@Summary		Request access token
//	@Description	Exchange an authorization code or a refresh token for a new token pair (RFC 6749)
//	@Tags			OAuth
//	@Accept			json
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			grant_type		formData	string	true	"'authorization_code' or 'refresh_token'"
//	@Success		200				{object}	object{access_token=string,refresh_token=string,token_type=string,expires_in=int,scope=string}
//	@Failure		400				{object}	object{error=string,error_description=string}
//	@Failure		401				{object}	object{error=string,error_description=string}	"invalid_client"
//	@Failure		429				{object}	object{error=string,error_description=string}	"Rate limit exceeded"
//	@Router			/oauth2/token [post]
func (h *TokenHandler) Token(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")

	var params tokenParams
	if err := c.ShouldBind(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             services.ErrInvalidRequest.Error(),
			"error_description": "Malformed token request.",
		})
		return
	}

	clientID, clientSecret, ok := clientCredentials(c, params.ClientID, params.ClientSecret)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             services.ErrInvalidRequest.Error(),
			"error_description": "Client credentials must be sent using a single method.",
		})
		return
	}

	var (
		pair *services.TokenPair
		err  error
	)
	ctx := c.Request.Context()
	switch params.GrantType {
	case services.GrantTypeAuthorizationCode:
		pair, err = h.tokenService.ExchangeAuthorizationCode(ctx, services.ExchangeCodeRequest{
			Code:         params.Code,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURI:  params.RedirectURI,
			CodeVerifier: params.CodeVerifier,
		})
	case services.GrantTypeRefreshToken:
		pair, err = h.tokenService.RefreshAccessToken(ctx, services.RefreshRequest{
			RefreshToken: params.RefreshToken,
			ClientID:     clientID,
			ClientSecret: clientSecret,
		})
	case "":
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             services.ErrInvalidRequest.Error(),
			"error_description": "grant_type is required.",
		})
		return
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             services.ErrUnsupportedGrantType.Error(),
			"error_description": "Supported grant types: authorization_code, refresh_token",
		})
		return
	}
	if err != nil {
		writeOAuthError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.Access.RawToken,
		"refresh_token": pair.Refresh.RawToken,
		"token_type":    "Bearer",
		"expires_in":    pair.ExpiresIn(),
		"scope":         pair.Access.Scopes,
	})
}

// Revoke godoc
//
//	@Summary		Revoke token
//	@Description	Revoke an access token or refresh token (RFC 7009). The response is 200 whether or not anything was revoked, so it cannot be used to probe for valid tokens.
//	@Tags			OAuth
//	@Accept			json
//	@Accept			x-www-form-urlencoded
//	@Param			token			formData	string	true	"Token to revoke"
//	@Param			token_type_hint	formData	string	false	"'access_token' or 'refresh_token'"
//	@Success		200
//	@Router			/oauth2/revoke [post]
func (h *TokenHandler) Revoke(c *gin.Context) {
	var params revokeParams
	if err := c.ShouldBind(&params); err != nil {
		h.logger.Debug("malformed revocation request", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	clientID, clientSecret, ok := clientCredentials(c, params.ClientID, params.ClientSecret)
	if !ok {
		c.Status(http.StatusOK)
		return
	}

	if err := h.tokenService.Revoke(c.Request.Context(), services.RevokeRequest{
		Token:         params.Token,
		TokenTypeHint: params.TokenTypeHint,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
	}); err != nil {
		h.logger.Error("token revocation failed", zap.Error(err))
	}
	c.Status(http.StatusOK)
}

// TokenInfo godoc
//
//	@Summary		Describe the presenting access token
//	@Tags			OAuth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	object{active=bool,user_id=string,client_id=string,scope=string,exp=int,iss=string}
//	@Failure		401	{object}	object{error=string,error_description=string}
//	@Router			/oauth2/tokeninfo [get]
func (h *TokenHandler) TokenInfo(c *gin.Context) {
	tok, ok := middleware.GetAccessToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": services.ErrInvalidToken.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active":          true,
		"user_id":         tok.UserID,
		"client_id":       tok.ClientID,
		"organization_id": tok.OrganizationID,
		"scope":           tok.Scopes,
		"exp":             tok.ExpiresAt.Unix(),
		"expires_in":      int64(time.Until(tok.ExpiresAt).Seconds()),
		"iss":             h.config.BaseURL,
	})
}

// clientCredentials merges HTTP Basic credentials with those in the body.
// Basic credentials are form-encoded before base64 (RFC 6749 section
// 2.3.1). ok is false when a secret arrives through both channels or the
// two channels name different clients.
func clientCredentials(c *gin.Context, bodyID, bodySecret string) (id, secret string, ok bool) {
	user, pass, hasBasic := c.Request.BasicAuth()
	if !hasBasic {
		return bodyID, bodySecret, true
	}

	basicID, err := url.QueryUnescape(user)
	if err != nil {
		return "", "", false
	}
	basicSecret, err := url.QueryUnescape(pass)
	if err != nil {
		return "", "", false
	}

	if bodySecret != "" || (bodyID != "" && bodyID != basicID) {
		return "", "", false
	}
	return basicID, basicSecret, true
}
