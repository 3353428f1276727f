// Package auth checks the single shared Basic credential every request must carry.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

// Challenge is sent in WWW-Authenticate with every 401 and 403.
const Challenge = `Basic realm="Terraform State"`

var (
	ErrUnauthenticated = errors.New("missing credentials")
	ErrForbidden       = errors.New("invalid credentials")
)

// Authenticator compares Authorization headers against one username/password pair.
type Authenticator struct {
	token []byte
}

func New(username, password string) *Authenticator {
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return &Authenticator{token: []byte(encoded)}
}

// Check returns ErrUnauthenticated for an empty header and ErrForbidden for
// anything other than exactly "Basic <token>" with the configured token.
func (a *Authenticator) Check(header string) error {
	if header == "" {
		return ErrUnauthenticated
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Basic" {
		return ErrForbidden
	}
	if subtle.ConstantTimeCompare([]byte(parts[1]), a.token) != 1 {
		return ErrForbidden
	}
	return nil
}
