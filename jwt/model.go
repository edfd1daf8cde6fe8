package jwt

import gojwt "github.com/golang-jwt/jwt/v5"

// Header is the JOSE header of a token.
type Header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
}

// Claims carries the registered claims plus the caller's role.
type Claims struct {
	gojwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Option tunes validation.
type Option = gojwt.ParserOption

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) Option {
	return gojwt.WithAudience(audience)
}

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return gojwt.WithIssuer(issuer)
}
