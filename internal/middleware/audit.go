// audit.go provides Gin middleware that records organization lifecycle requests
// and logins to the audit shippers.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orgstore/orgstore/internal/audit"
	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/safego"
)

// Context keys written by handlers and read by AuditMiddleware.
const (
	AuditActionKey       = "audit_action"
	AuditOrganizationKey = "audit_organization"
	AuditStorageKeyKey   = "audit_storage_key"
	AuditAdminIDKey      = "audit_admin_id"
	AuditMetadataKey     = "audit_metadata"
)

// SetAuditAction marks the request as auditable. Handlers call it as soon as
// they know which action and organization the request concerns, so that
// failed attempts are attributed too.
func SetAuditAction(c *gin.Context, action, organization string) {
	c.Set(AuditActionKey, action)
	c.Set(AuditOrganizationKey, organization)
}

// SetAuditDetail records the outcome fields of an auditable request.
func SetAuditDetail(c *gin.Context, storageKey string, metadata map[string]interface{}) {
	if storageKey != "" {
		c.Set(AuditStorageKeyKey, storageKey)
	}
	if len(metadata) > 0 {
		c.Set(AuditMetadataKey, metadata)
	}
}

// AuditMiddleware ships one audit entry for every request a handler marked
// with SetAuditAction. Failed requests are shipped only when
// cfg.LogFailedRequests is set. Shipping happens off the request path.
func AuditMiddleware(shipper audit.Shipper, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if shipper == nil || c.Request.Method == http.MethodOptions {
			return
		}

		action := c.GetString(AuditActionKey)
		if action == "" {
			return
		}
		status := c.Writer.Status()
		if status >= 400 && (cfg == nil || !cfg.LogFailedRequests) {
			return
		}

		entry := &audit.LogEntry{
			Timestamp:    time.Now().UTC(),
			Action:       action,
			Organization: c.GetString(AuditOrganizationKey),
			StorageKey:   c.GetString(AuditStorageKeyKey),
			IPAddress:    c.ClientIP(),
			RequestID:    c.GetString(RequestIDKey),
			StatusCode:   status,
			Metadata: map[string]interface{}{
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
			},
		}
		if p, ok := GetPrincipal(c); ok {
			entry.AdminID = p.AdminID.Hex()
		} else {
			entry.AdminID = c.GetString(AuditAdminIDKey)
		}
		if extra, ok := c.Get(AuditMetadataKey); ok {
			if m, ok := extra.(map[string]interface{}); ok {
				for k, v := range m {
					entry.Metadata[k] = v
				}
			}
		}

		safego.Go("audit-ship", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shipper.Ship(ctx, entry); err != nil {
				slog.Error("failed to ship audit entry", "action", entry.Action, "error", err)
			}
		})
	}
}
