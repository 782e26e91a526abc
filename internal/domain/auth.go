package domain

import (
	"fmt"
	"strings"
)

// TokenKind differentiates locally verifiable tokens from opaque encrypted ones.
type TokenKind string

const (
	TokenKindSigned    TokenKind = "SIGNED"
	TokenKindEncrypted TokenKind = "ENCRYPTED"
)

// ClaimsSource records how a set of claims was obtained.
type ClaimsSource string

const (
	ClaimsSourceLocalJWT     ClaimsSource = "local-jwt"
	ClaimsSourceRemoteLookup ClaimsSource = "remote-lookup"
	ClaimsSourceCache        ClaimsSource = "cache"
)

// Claims holds the identity attributes resolved for a bearer token.
type Claims struct {
	Subject       string       `json:"sub" cbor:"sub"`
	Email         string       `json:"email" cbor:"email"`
	GivenName     string       `json:"given_name,omitempty" cbor:"given_name,omitempty"`
	FamilyName    string       `json:"family_name,omitempty" cbor:"family_name,omitempty"`
	EmailVerified bool         `json:"email_verified" cbor:"email_verified"`
	Source        ClaimsSource `json:"source" cbor:"source"`
	Stale         bool         `json:"stale,omitempty" cbor:"stale,omitempty"`
}

// Complete reports whether the claims carry the attributes required to resolve a user.
func (c Claims) Complete() bool {
	return strings.TrimSpace(c.Subject) != "" && strings.TrimSpace(c.Email) != ""
}

// WithSource returns a copy tagged with the given source.
func (c Claims) WithSource(source ClaimsSource) Claims {
	c.Source = source
	return c
}

// FlexBool decodes a JSON boolean that some providers send as a string.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.ToLower(string(data)), `"`) {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}
