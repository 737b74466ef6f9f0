// Package middleware (rbac.go) restricts organization mutations to that
// organization's admin.
//
// The caller's organization is checked at request time against both the token
// claim and the admin's stored back-reference, so a token stays usable after
// its holder renames their own organization.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireOrganization aborts with 403 unless the principal manages one of the
// organizations named by the given query parameters. When none of the
// parameters is present the request is passed on so the handler can reject it
// as invalid input.
func RequireOrganization(queryParams ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		targets := make([]string, 0, len(queryParams))
		for _, param := range queryParams {
			if v := c.Query(param); v != "" {
				targets = append(targets, v)
			}
		}
		if len(targets) == 0 {
			c.Next()
			return
		}

		if !principal.CanManage(targets...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Not authorized for this organization",
			})
			return
		}

		c.Next()
	}
}
