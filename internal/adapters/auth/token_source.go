package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zatekoja/scribesync/internal/domain/providers"
)

// ErrNoIdentityToken means the user is signed out
var ErrNoIdentityToken = errors.New("no identity token")

// FileTokenSource reads the identity token from a file on every call. The
// auth shell rewrites the file on sign-in and removes it on sign-out.
type FileTokenSource struct {
	path string
}

// NewFileTokenSource creates a token source reading path
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

// IdentityToken returns the trimmed file contents
func (s *FileTokenSource) IdentityToken(ctx context.Context) (string, error) {
	if s.path == "" {
		return "", ErrNoIdentityToken
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoIdentityToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to read identity token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoIdentityToken
	}
	return token, nil
}

var _ providers.IdentityTokenSource = (*FileTokenSource)(nil)
