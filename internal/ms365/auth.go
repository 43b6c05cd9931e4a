package ms365

import (
	"context"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/pkcs12"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
)

const (
	tokenURLFormat      = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	graphScope          = "https://graph.microsoft.com/.default"
	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// Access tokens are refreshed this long before their reported expiry so
	// a token never goes stale in the middle of a paginated pull.
	tokenRefreshMargin = 5 * time.Minute

	// Lifetime of the signed client assertion used for certificate auth.
	assertionLifetime = 10 * time.Minute
)

// tokenProvider obtains and caches OAuth2 access tokens for a single tenant
// using the client credentials grant. Secret-based tenants send the client
// secret, certificate-based tenants send a signed JWT assertion instead.
type tokenProvider struct {
	cfg        Config
	httpClient *http.Client

	// tokenURL overrides the default identity platform endpoint when set.
	tokenURL string

	mu    sync.Mutex
	token *oauth2.Token
	key   *rsa.PrivateKey
	cert  *x509.Certificate
}

func newTokenProvider(cfg Config, httpClient *http.Client) *tokenProvider {
	return &tokenProvider{
		cfg:        cfg,
		httpClient: httpClient,
	}
}

// AccessToken returns a valid access token, fetching a new one when the
// cached token is missing or within the refresh margin of expiring.
func (p *tokenProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != nil && p.token.AccessToken != "" && time.Until(p.token.Expiry) > tokenRefreshMargin {
		return p.token.AccessToken, nil
	}

	token, err := p.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	p.token = token
	return token.AccessToken, nil
}

// Invalidate drops the cached token so the next AccessToken call
// re-authenticates. Used when the API answers 401 for a token that has not
// reached its reported expiry.
func (p *tokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = nil
}

func (p *tokenProvider) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	tokenURL := p.tokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf(tokenURLFormat, p.cfg.TenantID)
	}

	cc := &clientcredentials.Config{
		ClientID:  p.cfg.ClientID,
		TokenURL:  tokenURL,
		Scopes:    []string{graphScope},
		AuthStyle: oauth2.AuthStyleInParams,
	}

	switch p.cfg.AuthMethod {
	case models.AuthMethodSecret:
		if p.cfg.ClientSecret == "" {
			return nil, fmt.Errorf("%w: client secret is not configured", ErrAuthenticationFailed)
		}
		cc.ClientSecret = p.cfg.ClientSecret
	default:
		// Certificate auth mints a fresh assertion per token request because
		// the assertion itself expires.
		assertion, err := p.signedAssertion(cc.TokenURL)
		if err != nil {
			return nil, err
		}
		cc.EndpointParams = url.Values{
			"client_assertion_type": {clientAssertionType},
			"client_assertion":      {assertion},
		}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := cc.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: %s: %s", ErrAuthenticationFailed, retrieveErr.ErrorCode, retrieveErr.ErrorDescription)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: requesting token: %v", ErrTransientNetwork, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response contained no access token", ErrAuthenticationFailed)
	}
	return token, nil
}

// signedAssertion builds the RS256 JWT that certificate-based tenants present
// in place of a client secret. The x5t header carries the certificate's SHA-1
// thumbprint so the identity platform can match the uploaded certificate.
func (p *tokenProvider) signedAssertion(audience string) (string, error) {
	if err := p.loadCertificate(); err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.cfg.ClientID,
		Subject:   p.cfg.ClientID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	thumbprint := sha1.Sum(p.cert.Raw)
	token.Header["x5t"] = base64.RawURLEncoding.EncodeToString(thumbprint[:])

	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("%w: signing client assertion: %v", ErrAuthenticationFailed, err)
	}
	return signed, nil
}

func (p *tokenProvider) loadCertificate() error {
	if p.key != nil && p.cert != nil {
		return nil
	}
	if p.cfg.CertificatePath == "" {
		return fmt.Errorf("%w: certificate path is not configured", ErrAuthenticationFailed)
	}

	data, err := os.ReadFile(p.cfg.CertificatePath)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrInvalidCertificate, p.cfg.CertificatePath, err)
	}

	key, cert, err := parseCertificate(data, p.cfg.CertificatePassword, filepath.Ext(p.cfg.CertificatePath))
	if err != nil {
		return err
	}
	p.key = key
	p.cert = cert
	return nil
}

// parseCertificate extracts the RSA private key and certificate from either
// a PKCS#12 bundle (.pfx/.p12) or PEM data.
func parseCertificate(data []byte, password, ext string) (*rsa.PrivateKey, *x509.Certificate, error) {
	switch strings.ToLower(ext) {
	case ".pfx", ".p12":
		priv, cert, err := pkcs12.Decode(data, password)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: decoding pkcs12 bundle: %v", ErrInvalidCertificate, err)
		}
		key, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, nil, fmt.Errorf("%w: private key is not RSA", ErrInvalidCertificate)
		}
		return key, cert, nil
	}
	return parsePEMCertificate(data)
}

func parsePEMCertificate(data []byte) (*rsa.PrivateKey, *x509.Certificate, error) {
	var key *rsa.PrivateKey
	var cert *x509.Certificate

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		switch block.Type {
		case "CERTIFICATE":
			if cert != nil {
				continue
			}
			parsed, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: parsing certificate: %v", ErrInvalidCertificate, err)
			}
			cert = parsed
		case "RSA PRIVATE KEY":
			parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: parsing private key: %v", ErrInvalidCertificate, err)
			}
			key = parsed
		case "PRIVATE KEY":
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: parsing private key: %v", ErrInvalidCertificate, err)
			}
			rsaKey, ok := parsed.(*rsa.PrivateKey)
			if !ok {
				return nil, nil, fmt.Errorf("%w: private key is not RSA", ErrInvalidCertificate)
			}
			key = rsaKey
		}
	}

	if key == nil || cert == nil {
		return nil, nil, fmt.Errorf("%w: PEM data must contain both a certificate and an RSA private key", ErrInvalidCertificate)
	}
	return key, cert, nil
}
