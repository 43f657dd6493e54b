// README: Auth middleware; resolves the calling actor from a Firebase ID token or trusted headers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fleetd/internal/infra"
	"fleetd/internal/modules/request"
	"fleetd/internal/types"
)

const (
	ctxActor       = "fleetd.actor"
	ctxTokenTenant = "fleetd.token_tenant"

	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// Auth verifies the bearer token and stores the caller as a request.Actor.
// The role comes from the "role" custom claim and defaults to CUSTOMER.
// With a nil verifier the caller is taken from X-Actor-ID / X-Actor-Role,
// for deployments behind a gateway that already authenticated the caller.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			id := strings.TrimSpace(c.GetHeader(HeaderActorID))
			if id == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + HeaderActorID})
				return
			}
			c.Set(ctxActor, request.Actor{ID: types.ID(id), Role: parseRole(c.GetHeader(HeaderActorRole))})
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		role, _ := token.Claims["role"].(string)
		c.Set(ctxActor, request.Actor{ID: types.ID(token.UID), Role: parseRole(role)})
		if tenant, _ := token.Claims["tenant_id"].(string); tenant != "" {
			c.Set(ctxTokenTenant, types.TenantID(tenant))
		}
		c.Next()
	}
}

func parseRole(v string) request.Role {
	switch r := request.Role(strings.ToUpper(strings.TrimSpace(v))); r {
	case request.RoleDriver, request.RoleDispatcher, request.RoleAgencyAdmin, request.RoleSuperAdmin:
		return r
	}
	return request.RoleCustomer
}

// Actor returns the authenticated caller.
func Actor(c *gin.Context) request.Actor {
	if v, ok := c.Get(ctxActor); ok {
		if a, ok := v.(request.Actor); ok {
			return a
		}
	}
	return request.Actor{}
}

func CallerUID(c *gin.Context) string {
	return string(Actor(c).ID)
}

func CallerRole(c *gin.Context) string {
	return string(Actor(c).Role)
}
