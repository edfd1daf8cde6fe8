package jwt

import (
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var signingMethod = gojwt.SigningMethodHS256

// Create creates a token signed with the shared secret
func Create(claims Claims, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	token := gojwt.NewWithClaims(signingMethod, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "sign jwt")
	}
	return signed, nil
}

// Validate checks the signature, algorithm and time claims (exp, nbf, iat) of a token.
func Validate(jwt string, secret string, opts ...Option) (*Header, *Claims, error) {
	if secret == "" {
		return nil, nil, fmt.Errorf("jwt secret is not configured")
	}

	opts = append([]Option{
		gojwt.WithValidMethods([]string{signingMethod.Alg()}),
		gojwt.WithIssuedAt(),
	}, opts...)

	var claims Claims
	token, err := gojwt.ParseWithClaims(jwt, &claims, func(token *gojwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid jwt")
	}

	header := Header{Algorithm: token.Method.Alg()}
	if typ, ok := token.Header["typ"].(string); ok {
		header.Type = typ
	}
	if kid, ok := token.Header["kid"].(string); ok {
		header.KeyID = kid
	}
	if header.Type != "" && header.Type != "JWT" {
		return nil, nil, fmt.Errorf("unsupported jwt type %q", header.Type)
	}

	return &header, &claims, nil
}
