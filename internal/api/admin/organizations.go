// organizations.go implements handlers for creating, reading, renaming and
// deleting organizations.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgstore/orgstore/internal/audit"
	"github.com/orgstore/orgstore/internal/middleware"
	"github.com/orgstore/orgstore/internal/services"
)

// CreateOrganizationRequest is the body of POST /org/create.
type CreateOrganizationRequest struct {
	OrganizationName string `json:"organization_name" binding:"required,orgname"`
	Email            string `json:"email" binding:"required,email"`
	Password         string `json:"password" binding:"required,min=6"`
}

type getOrganizationQuery struct {
	OrganizationName string `form:"organization_name" binding:"required,orgname"`
}

type updateOrganizationQuery struct {
	CurrentName string `form:"current_name" binding:"required,orgname"`
	NewName     string `form:"new_name" binding:"required,orgname"`
}

type deleteOrganizationQuery struct {
	OrgName string `form:"org_name" binding:"required,orgname"`
}

// OrganizationHandlers handles organization management endpoints
type OrganizationHandlers struct {
	lifecycle *services.LifecycleService
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(lifecycle *services.LifecycleService) *OrganizationHandlers {
	mustRegisterValidators()
	return &OrganizationHandlers{lifecycle: lifecycle}
}

// @Summary      Create organization
// @Description  Register an organization with its admin and an empty data partition.
// @Tags         Organizations
// @Accept       json
// @Produce      json
// @Param        body  body  CreateOrganizationRequest  true  "Organization and admin credentials"
// @Success      201  {object}  services.OrganizationInfo
// @Failure      400  {object}  map[string]interface{}  "Name, storage key or email already taken"
// @Failure      422  {object}  map[string]interface{}  "Invalid request"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /org/create [post]
// CreateOrganizationHandler creates a new organization
// POST /org/create
func (h *OrganizationHandlers) CreateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, err)
			return
		}
		middleware.SetAuditAction(c, audit.ActionOrganizationCreate, req.OrganizationName)

		info, err := h.lifecycle.CreateOrganization(c.Request.Context(), req.OrganizationName, req.Email, req.Password)
		if err != nil {
			respondError(c, err, "Failed to create organization")
			return
		}

		middleware.SetAuditDetail(c, info.StorageKey, nil)
		c.JSON(http.StatusCreated, info)
	}
}

// @Summary      Get organization
// @Description  Look up an organization by name, ignoring case.
// @Tags         Organizations
// @Produce      json
// @Param        organization_name  query  string  true  "Organization name"
// @Success      200  {object}  services.OrganizationInfo
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      422  {object}  map[string]interface{}  "Invalid request"
// @Router       /org/get [get]
// GetOrganizationHandler retrieves an organization by name
// GET /org/get?organization_name=
func (h *OrganizationHandlers) GetOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q getOrganizationQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondInvalid(c, err)
			return
		}

		info, err := h.lifecycle.GetOrganization(c.Request.Context(), q.OrganizationName)
		if err != nil {
			respondError(c, err, "Failed to retrieve organization")
			return
		}

		c.JSON(http.StatusOK, info)
	}
}

// @Summary      Rename organization
// @Description  Rename an organization, moving its data to the partition derived from the new name.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        current_name  query  string  true  "Current organization name"
// @Param        new_name      query  string  true  "New organization name"
// @Success      200  {object}  services.RenameResult
// @Failure      400  {object}  map[string]interface{}  "New name already taken"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Not authorized for this organization"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      422  {object}  map[string]interface{}  "Invalid request"
// @Router       /org/update [put]
// UpdateOrganizationHandler renames an organization
// PUT /org/update?current_name=&new_name=
func (h *OrganizationHandlers) UpdateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q updateOrganizationQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondInvalid(c, err)
			return
		}
		middleware.SetAuditAction(c, audit.ActionOrganizationRename, q.CurrentName)

		res, err := h.lifecycle.RenameOrganization(c.Request.Context(), q.CurrentName, q.NewName)
		if err != nil {
			respondError(c, err, "Failed to rename organization")
			return
		}

		middleware.SetAuditDetail(c, res.NewStorageKey, map[string]interface{}{
			"new_name":    res.NewName,
			"moved_count": res.MovedCount,
		})
		c.JSON(http.StatusOK, res)
	}
}

// @Summary      Delete organization
// @Description  Delete an organization, its admins and its data partition.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        org_name  query  string  true  "Organization name"
// @Success      200  {object}  services.DeleteResult
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Not authorized for this organization"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      422  {object}  map[string]interface{}  "Invalid request"
// @Router       /org/delete [delete]
// DeleteOrganizationHandler deletes an organization
// DELETE /org/delete?org_name=
func (h *OrganizationHandlers) DeleteOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q deleteOrganizationQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondInvalid(c, err)
			return
		}
		middleware.SetAuditAction(c, audit.ActionOrganizationDelete, q.OrgName)

		res, err := h.lifecycle.DeleteOrganization(c.Request.Context(), q.OrgName)
		if err != nil {
			respondError(c, err, "Failed to delete organization")
			return
		}

		c.JSON(http.StatusOK, res)
	}
}
