package auth

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/scribesync/internal/domain/providers"
	apperrors "github.com/zatekoja/scribesync/pkg/errors"
)

// refreshMargin renews credentials this long before they expire
const refreshMargin = time.Minute

// CognitoAPI is the subset of the Cognito identity client used here
type CognitoAPI interface {
	GetId(ctx context.Context, params *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error)
	GetCredentialsForIdentity(ctx context.Context, params *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error)
}

// CognitoCredentialProvider exchanges the signed-in user's identity token for
// temporary credentials from a Cognito identity pool
type CognitoCredentialProvider struct {
	api          CognitoAPI
	poolID       string
	providerName string
	tokens       providers.IdentityTokenSource
	now          func() time.Time

	mu         sync.Mutex
	token      string
	identityID string
	cached     providers.Credentials
}

// NewCognitoCredentialProvider creates a provider for the given identity pool.
// providerName is the login provider key, e.g. cognito-idp.<region>.amazonaws.com/<pool>.
func NewCognitoCredentialProvider(api CognitoAPI, poolID, providerName string, tokens providers.IdentityTokenSource) *CognitoCredentialProvider {
	return &CognitoCredentialProvider{
		api:          api,
		poolID:       poolID,
		providerName: providerName,
		tokens:       tokens,
		now:          time.Now,
	}
}

// Retrieve returns cached credentials while the identity token is unchanged
// and the credentials are fresh, otherwise exchanges the token again
func (p *CognitoCredentialProvider) Retrieve(ctx context.Context) (providers.Credentials, error) {
	token, err := p.tokens.IdentityToken(ctx)
	if err != nil || token == "" {
		p.Invalidate()
		return providers.Credentials{}, apperrors.NewUnauthorizedErrorWrap("no signed-in session", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if token == p.token && p.cached.AccessKeyID != "" && !p.cached.Expired(p.now().Add(refreshMargin)) {
		return p.cached, nil
	}
	if token != p.token {
		p.identityID = ""
	}

	logins := map[string]string{p.providerName: token}

	if p.identityID == "" {
		out, err := p.api.GetId(ctx, &cognitoidentity.GetIdInput{
			IdentityPoolId: aws.String(p.poolID),
			Logins:         logins,
		})
		if err != nil {
			return providers.Credentials{}, apperrors.NewUnauthorizedErrorWrap("failed to resolve identity", err)
		}
		p.identityID = aws.ToString(out.IdentityId)
	}

	out, err := p.api.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: aws.String(p.identityID),
		Logins:     logins,
	})
	if err != nil {
		p.identityID = ""
		return providers.Credentials{}, apperrors.NewUnauthorizedErrorWrap("failed to obtain credentials", err)
	}
	if out.Credentials == nil {
		return providers.Credentials{}, apperrors.NewUnauthorizedError("identity pool returned no credentials")
	}

	creds := providers.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		IdentityID:      p.identityID,
		Expires:         aws.ToTime(out.Credentials.Expiration),
	}
	p.token = token
	p.cached = creds

	log.Debug().Str("identity_id", p.identityID).Time("expires", creds.Expires).Msg("Obtained identity pool credentials")
	return creds, nil
}

// Invalidate drops cached credentials
func (p *CognitoCredentialProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.identityID = ""
	p.cached = providers.Credentials{}
}

var _ providers.CredentialProvider = (*CognitoCredentialProvider)(nil)
