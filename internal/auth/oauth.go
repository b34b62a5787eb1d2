// Package auth provides OIDC bearer-token authentication and rate limiting for the pipeline API.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Provider wraps OIDC provider functionality.
type Provider struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// Config holds OIDC provider configuration.
type Config struct {
	// Issuer is the OIDC provider URL (e.g., https://auth.example.com)
	Issuer string

	// ClientID is the expected audience of ID tokens
	ClientID string

	// SkipIssuerCheck disables issuer validation (use only for testing)
	SkipIssuerCheck bool
}

// NewProvider creates a new OIDC provider. It fetches the discovery document.
func NewProvider(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("create oidc provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: cfg.SkipIssuerCheck,
	})

	return &Provider{provider: provider, verifier: verifier}, nil
}

func trimBearer(token string) string {
	token = strings.TrimPrefix(token, "Bearer ")
	return strings.TrimPrefix(token, "bearer ")
}

// VerifyToken verifies an ID token and returns claims.
func (p *Provider) VerifyToken(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := p.verifier.Verify(ctx, trimBearer(rawToken))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	claims.Issuer = idToken.Issuer
	claims.Audience = idToken.Audience
	claims.Expiry = idToken.Expiry
	claims.IssuedAt = idToken.IssuedAt

	return &claims, nil
}

// VerifyAccessToken verifies an opaque access token using the userinfo endpoint.
func (p *Provider) VerifyAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: trimBearer(accessToken),
	}))
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}

	claims := &Claims{
		Subject:       userInfo.Subject,
		Email:         userInfo.Email,
		EmailVerified: userInfo.EmailVerified,
	}

	var extra struct {
		Name   string   `json:"name"`
		Groups []string `json:"groups"`
		Roles  []string `json:"roles"`
	}
	if err := userInfo.Claims(&extra); err == nil {
		claims.Name = extra.Name
		claims.Groups = extra.Groups
		claims.Roles = extra.Roles
	}

	return claims, nil
}

// Claims represents the standard OIDC claims.
type Claims struct {
	Subject       string   `json:"sub"`
	Name          string   `json:"name,omitempty"`
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	Groups        []string `json:"groups,omitempty"`
	Roles         []string `json:"roles,omitempty"`

	// Filled from the verified token, not the payload
	Issuer   string    `json:"-"`
	Audience []string  `json:"-"`
	Expiry   time.Time `json:"-"`
	IssuedAt time.Time `json:"-"`
}

// HasRole checks if the user has a specific role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasGroup checks if the user is in a specific group.
func (c *Claims) HasGroup(group string) bool {
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// IsExpired checks if the token has expired.
func (c *Claims) IsExpired() bool {
	if c.Expiry.IsZero() {
		return false
	}
	return time.Now().After(c.Expiry)
}

// Principal names the caller for audit fields: email when known, else subject.
func (c *Claims) Principal() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}
