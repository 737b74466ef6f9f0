// auth.go implements the admin login handler.
package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgstore/orgstore/internal/audit"
	"github.com/orgstore/orgstore/internal/middleware"
	"github.com/orgstore/orgstore/internal/services"
	"github.com/orgstore/orgstore/internal/validation"
)

// LoginRequest is the body of POST /admin/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	auth *services.AuthService
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(auth *services.AuthService) *AuthHandlers {
	mustRegisterValidators()
	return &AuthHandlers{auth: auth}
}

// @Summary      Admin login
// @Description  Exchange admin credentials for a bearer token scoped to the admin's organization.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Admin credentials"
// @Success      200  {object}  services.LoginResult
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Failure      422  {object}  map[string]interface{}  "Invalid request"
// @Failure      429  {object}  map[string]interface{}  "Rate limit exceeded"
// @Failure      500  {object}  map[string]interface{}  "Org metadata missing"
// @Router       /admin/login [post]
// LoginHandler authenticates an admin
// POST /admin/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, err)
			return
		}
		middleware.SetAuditAction(c, audit.ActionAdminLogin, "")

		res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
		switch {
		case err == nil:
		case errors.Is(err, services.ErrUnauthorized):
			// Same body for unknown email and wrong password.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		case errors.Is(err, services.ErrOrgMetadataMissing):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Org metadata missing"})
			return
		default:
			respondError(c, err, "Login failed")
			return
		}

		c.Set(middleware.AuditAdminIDKey, res.AdminID)
		c.Set(middleware.AuditOrganizationKey, res.Organization)
		middleware.SetAuditDetail(c, res.StorageKey, nil)
		c.JSON(http.StatusOK, res)
	}
}

// mustRegisterValidators installs the custom binding tags. Failure means the
// binding engine was swapped out, which is a programming error.
func mustRegisterValidators() {
	if err := validation.RegisterBindingValidators(); err != nil {
		panic(err)
	}
}
