package providers

import (
	"context"
	"time"
)

// Credentials are short-lived remote store credentials for the signed-in principal
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	IdentityID      string
	Expires         time.Time
}

// Expired reports whether the credentials are past their expiry
func (c Credentials) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// CredentialProvider supplies remote store credentials. It may be called
// repeatedly and must return an error when no valid session exists.
type CredentialProvider interface {
	Retrieve(ctx context.Context) (Credentials, error)
}

// IdentityTokenSource returns the signed-in principal's current identity token
type IdentityTokenSource interface {
	IdentityToken(ctx context.Context) (string, error)
}
