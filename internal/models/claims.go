package models

import "github.com/golang-jwt/jwt/v5"

const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// Claims identify the caller of the HTTP API. Tokens are issued by the
// platform's identity service and only verified here.
type Claims struct {
	jwt.RegisteredClaims
	UserID   uint   `json:"user_id"`
	TenantID uint   `json:"tenant_id"`
	Role     string `json:"role"`
}

func (c *Claims) Owner() Owner {
	return Owner{UserID: c.UserID, TenantID: c.TenantID}
}

func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
