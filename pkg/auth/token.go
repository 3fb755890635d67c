// Package auth manages the daemon's single IPC auth token: a UUID v4
// written once to a mode-0600 file and compared verbatim against every
// connection's first Auth message (§4.2).
package auth

import (
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// GetOrCreateToken reads the token at path, generating and persisting a new
// UUID v4 if the file does not yet exist. Grounded on
// global_config.rs::get_or_create_auth_token's exact semantics: ensure the
// parent directory exists, read-and-trim if present, else generate+write
// with 0600 permissions.
func GetOrCreateToken(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("auth: create daemon dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("auth: read token file: %w", err)
	}

	token := uuid.NewString()
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("auth: write token file: %w", err)
	}
	return token, nil
}

// Checker compares a candidate token against the expected token in constant
// time, guarding against timing side channels on the comparison.
type Checker struct {
	expected string
}

// NewChecker builds a Checker for the given expected token.
func NewChecker(expected string) *Checker {
	return &Checker{expected: expected}
}

// Check reports whether candidate matches the expected token.
func (c *Checker) Check(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(c.expected)) == 1
}
