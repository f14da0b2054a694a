package auth

import (
	"github.com/dgrijalva/jwt-go"
)

// Scope is a capability tag granted to a credential. The set is closed:
// scope checks compare against these constants, never raw strings from
// request input.
type Scope string

const (
	ScopeReadQR   Scope = "read:qrcode"
	ScopeWriteQR  Scope = "write:qrcode"
	ScopeDeleteQR Scope = "delete:qrcode"
)

// Claims are the identity claims carried by a verified bearer credential.
type Claims struct {
	jwt.StandardClaims
	Permissions []string `json:"permissions"`
}

// HasScope reports whether the credential carries the given capability.
func (c *Claims) HasScope(s Scope) bool {
	for _, p := range c.Permissions {
		if p == string(s) {
			return true
		}
	}
	return false
}
