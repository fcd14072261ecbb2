package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/karaoke-backend/internal/apperr"
    "github.com/iliyamo/karaoke-backend/internal/auth"
    "github.com/iliyamo/karaoke-backend/internal/middleware"
    "github.com/iliyamo/karaoke-backend/internal/service"
)

const requestTimeout = 5 * time.Second

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
    Accounts *service.AccountService
    Tokens   *service.TokenService
}

func NewAuthHandler(accounts *service.AccountService, tokens *service.TokenService) *AuthHandler {
    return &AuthHandler{Accounts: accounts, Tokens: tokens}
}

// ----- DTOs -----

type contextReq struct {
    Type string `json:"type" validate:"required,oneof=customer singer"`
    ID   string `json:"id" validate:"required"`
}

func (r *contextReq) active() *auth.ActiveContext {
    if r == nil {
        return nil
    }
    return &auth.ActiveContext{Type: auth.ContextType(r.Type), ID: r.ID}
}

type registerReq struct {
    Email       string `json:"email" validate:"required,email,max=255"`
    Password    string `json:"password" validate:"required,min=8,max=72"`
    AccountType string `json:"accountType" validate:"required,oneof=customer singer"`
    Name        string `json:"name" validate:"max=120"`
}

type loginReq struct {
    Email    string      `json:"email" validate:"required,email"`
    Password string      `json:"password" validate:"required"`
    Context  *contextReq `json:"context" validate:"omitempty"`
}

type refreshReq struct {
    UserID       string      `json:"userId" validate:"required"`
    RefreshToken string      `json:"refreshToken" validate:"required"`
    Context      *contextReq `json:"context" validate:"omitempty"`
}

type logoutReq struct {
    UserID       string `json:"userId" validate:"required"`
    RefreshToken string `json:"refreshToken" validate:"required"`
}

type tokenPart struct {
    Token   string    `json:"token"`
    Expires time.Time `json:"expires"`
}

type userPart struct {
    ID    string   `json:"id"`
    Email string   `json:"email"`
    Roles []string `json:"roles"`
}

type authResp struct {
    User          userPart                 `json:"user"`
    Access        tokenPart                `json:"access"`
    Refresh       *tokenPart               `json:"refresh,omitempty"`
    Organizations []auth.OrganizationClaim `json:"organizations"`
    Context       *auth.ActiveContext      `json:"context"`
}

func newAuthResp(claims *auth.AccessClaims, access tokenPart) authResp {
    return authResp{
        User:          userPart{ID: claims.Subject, Email: claims.Email, Roles: claims.Roles},
        Access:        access,
        Organizations: claims.Organizations,
        Context:       claims.Context,
    }
}

func sessionResp(s *service.Session) authResp {
    resp := newAuthResp(s.Claims, tokenPart{Token: s.AccessToken, Expires: s.AccessTokenExpiresAt})
    resp.Refresh = &tokenPart{Token: s.RefreshToken, Expires: s.RefreshTokenExpiresAt}
    return resp
}

// bind decodes and validates the request body into dst.
func bind(c echo.Context, dst any) error {
    if err := c.Bind(dst); err != nil {
        return apperr.Invalid("body", "invalid body")
    }
    return c.Validate(dst)
}

// Register: create the account and return a session immediately.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if err := bind(c, &req); err != nil {
        return err
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    sess, err := h.Accounts.Register(ctx, service.RegisterInput{
        Email:       req.Email,
        Password:    req.Password,
        AccountType: req.AccountType,
        Name:        req.Name,
    })
    if err != nil {
        return err
    }
    return c.JSON(http.StatusCreated, sessionResp(sess))
}

// Login: verify credentials and return a new session.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := bind(c, &req); err != nil {
        return err
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    sess, err := h.Accounts.SignIn(ctx, req.Email, req.Password, req.Context.active())
    if err != nil {
        return err
    }
    return c.JSON(http.StatusOK, sessionResp(sess))
}

// Refresh: rotate the refresh token and mint an access token from current
// memberships.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := bind(c, &req); err != nil {
        return err
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    sess, err := h.Accounts.Refresh(ctx, req.UserID, req.RefreshToken, req.Context.active())
    if err != nil {
        return err
    }
    return c.JSON(http.StatusOK, sessionResp(sess))
}

// Logout: revoke a single refresh token. Unknown tokens are accepted
// silently so the endpoint does not reveal which tokens exist.
func (h *AuthHandler) Logout(c echo.Context) error {
    var req logoutReq
    if err := bind(c, &req); err != nil {
        return err
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    if err := h.Accounts.SignOut(ctx, req.UserID, req.RefreshToken); err != nil {
        return err
    }
    return c.NoContent(http.StatusNoContent)
}

// LogoutAll: revoke every refresh token of the bearer (protected).
func (h *AuthHandler) LogoutAll(c echo.Context) error {
    user, err := middleware.Authorization(c).RequireUser()
    if err != nil {
        return err
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    n, err := h.Accounts.SignOutEverywhere(ctx, user.ID)
    if err != nil {
        return err
    }
    return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

// SwitchContext: mint an access token for another tenant context of the
// bearer. The refresh token is left untouched.
func (h *AuthHandler) SwitchContext(c echo.Context) error {
    user, err := middleware.Authorization(c).RequireUser()
    if err != nil {
        return err
    }
    var req contextReq
    if err := bind(c, &req); err != nil {
        return err
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    at, err := h.Tokens.CreateAccessToken(ctx, user.ID, req.active())
    if err != nil {
        return err
    }
    return c.JSON(http.StatusOK, newAuthResp(at.Claims, tokenPart{Token: at.Token, Expires: at.ExpiresAt}))
}

type orgPart struct {
    OrganizationID string   `json:"organizationId"`
    Role           string   `json:"role,omitempty"`
    Permissions    []string `json:"permissions"`
}

type meResp struct {
    ID            string              `json:"id"`
    Email         string              `json:"email"`
    Roles         []string            `json:"roles"`
    Context       *auth.ActiveContext `json:"context"`
    Organizations []orgPart           `json:"organizations"`
}

// Me: the bearer's identity with the permissions that hydrated for this
// request (protected).
func Me(c echo.Context) error {
    a := middleware.Authorization(c)
    user, err := a.RequireUser()
    if err != nil {
        return err
    }
    resp := meResp{
        ID:            user.ID,
        Email:         user.Email,
        Roles:         user.GlobalRoles,
        Context:       a.ActiveContext(),
        Organizations: []orgPart{},
    }
    for _, oc := range a.Claims().Organizations {
        set, ok := a.Organization(oc.OrganizationID)
        if !ok {
            continue
        }
        resp.Organizations = append(resp.Organizations, orgPart{
            OrganizationID: set.OrganizationID,
            Role:           set.RoleSlug,
            Permissions:    set.Permissions,
        })
    }
    return c.JSON(http.StatusOK, resp)
}
