// README: Tenant scoping middleware.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fleetd/internal/types"
)

const (
	ctxTenant    = "fleetd.tenant"
	HeaderTenant = "X-Tenant-ID"
)

// Tenant resolves the tenant from X-Tenant-ID, or from the token's tenant_id
// claim. A header that disagrees with the token claim is rejected.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := types.TenantID(strings.TrimSpace(c.GetHeader(HeaderTenant)))
		if v, ok := c.Get(ctxTokenTenant); ok {
			claim := v.(types.TenantID)
			if tenant != "" && tenant != claim {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "tenant mismatch"})
				return
			}
			tenant = claim
		}
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing " + HeaderTenant})
			return
		}
		c.Set(ctxTenant, tenant)
		c.Next()
	}
}

func TenantID(c *gin.Context) types.TenantID {
	v, _ := c.Get(ctxTenant)
	t, _ := v.(types.TenantID)
	return t
}
