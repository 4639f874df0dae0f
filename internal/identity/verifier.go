// Copyright 2026 The QMS Portal Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by the provider's ID token. Credential verification is
// the provider's job; this package only consumes its signed result.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier validates externally issued ID tokens and maps them to portal
// users. The signature check proves the token came from the configured
// provider; the domain allowlist scopes sign-in to the organisation.
type Verifier struct {
	secret         []byte
	issuer         string
	allowedDomains []string
	leeway         time.Duration
}

// NewVerifier creates a token verifier. allowedDomains empty means any
// domain is accepted.
func NewVerifier(secret []byte, issuer string, allowedDomains []string) *Verifier {
	return &Verifier{
		secret:         secret,
		issuer:         issuer,
		allowedDomains: allowedDomains,
		leeway:         30 * time.Second,
	}
}

// Verify checks the token signature, standard claims, and the domain
// allowlist, and returns the portal user with the role re-resolved from
// the principal.
func (v *Verifier) Verify(tokenString string) (*User, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Email == "" {
		return nil, ErrTokenInvalid
	}

	if err := v.checkDomain(claims.Email); err != nil {
		return nil, err
	}

	return BuildUser(claims.Email, claims.Name), nil
}

func (v *Verifier) checkDomain(email string) error {
	if len(v.allowedDomains) == 0 {
		return nil
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ErrDomainNotAllowed
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range v.allowedDomains {
		if domain == strings.ToLower(allowed) {
			return nil
		}
	}
	return ErrDomainNotAllowed
}
