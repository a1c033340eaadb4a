// Package credential manages the bearer token handed to the realtime socket.
// Tokens are issued elsewhere; this package only stores them and reads their
// claims without verifying the signature.
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenEnv overrides the stored token when set.
const TokenEnv = "HOMECARE_TOKEN"

var ErrNoCredential = errors.New("no credential")

// Credential is a bearer token plus whatever identity its claims carry.
type Credential struct {
	Token     string
	Subject   string
	ExpiresAt *time.Time
}

// Expired reports whether the token carries an exp claim before now.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// subjectClaims lists claim names that may hold the user id, in priority order.
var subjectClaims = []string{"sub", "userId", "id", "_id"}

// Parse reads the token's claims. Opaque (non JWT) tokens are accepted with
// no subject.
func Parse(token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrNoCredential
	}
	c := Credential{Token: token}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return c, nil
		}
		return Credential{}, fmt.Errorf("parse credential: %w", err)
	}

	for _, name := range subjectClaims {
		if s, ok := claims[name].(string); ok && s != "" {
			c.Subject = s
			break
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		c.ExpiresAt = &t
	}
	return c, nil
}

// Store persists the token for one profile.
type Store struct {
	path string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the credential from $HOMECARE_TOKEN or the token file.
func (s *Store) Load() (Credential, error) {
	if tok := os.Getenv(TokenEnv); tok != "" {
		return Parse(tok)
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credential{}, ErrNoCredential
	}
	if err != nil {
		return Credential{}, fmt.Errorf("read credential: %w", err)
	}
	return Parse(string(data))
}

// Save writes token with owner-only permissions.
func (s *Store) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoCredential
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(token+"\n"), 0600)
}

// Clear removes the stored token. A missing file is not an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
