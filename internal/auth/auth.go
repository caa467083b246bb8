// Package auth issues and verifies the bearer tokens guarding the HTTP and
// MCP surfaces.
//
// Two modes exist. Signed mode (the default) issues RS256-signed JWTs and
// verifies signatures against the configured public key. Unsigned mode is for
// trusted networks: tokens carry an empty signature, verification decodes the
// payload without a signature check, but expiration is still enforced.
//
// Every token carries the session channel id as `sub`, the owning user id as
// `uid`, an issue/expiry pair, a unique `jti`, and a `type` that is either
// "access" or "refresh". Long-lived MCP client tokens are access tokens with
// the "mcp" scope and the MCP TTL.
package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType discriminates what a token is for. Access tokens authenticate
// API calls; refresh tokens are accepted only by the refresh endpoint.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Scopes carried in the scope claim.
const (
	// ScopeAdmin unlocks the /admin endpoints.
	ScopeAdmin = "admin"

	// ScopeMCP marks long-lived tokens minted for MCP clients.
	ScopeMCP = "mcp"
)

// Claims is the token payload. The registered `sub` claim holds the session
// channel id; `uid` holds the user id the session belongs to.
type Claims struct {
	UserID string    `json:"uid,omitempty"`
	Type   TokenType `json:"type"`
	Scope  string    `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// ChannelID returns the session channel id carried in `sub`.
func (c *Claims) ChannelID() string { return c.Subject }

// TokenPair is the issuance response shape shared by the initialize and
// refresh endpoints.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Config configures an [Authority].
type Config struct {
	// Unsigned selects the trusted-network mode: tokens are issued without a
	// signature and verified without a signature check.
	Unsigned bool

	// PrivateKeyFile and PublicKeyFile are PEM-encoded RSA keys. Both are
	// required in signed mode and ignored in unsigned mode.
	PrivateKeyFile string
	PublicKeyFile  string

	// Issuer and Audience are stamped on issued tokens and, when non-empty,
	// enforced during signed verification.
	Issuer   string
	Audience string

	// AccessTTL, RefreshTTL and MCPTTL are the lifetimes of the three token
	// flavors. All must be positive.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	MCPTTL     time.Duration
}

// Authority mints and verifies tokens. Safe for concurrent use.
type Authority struct {
	unsigned bool
	key      *rsa.PrivateKey
	public   *rsa.PublicKey
	issuer   string
	audience string

	accessTTL  time.Duration
	refreshTTL time.Duration
	mcpTTL     time.Duration
}

// New builds an [Authority], loading and parsing the RSA key pair in signed
// mode.
func New(cfg Config) (*Authority, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.MCPTTL <= 0 {
		return nil, fmt.Errorf("auth: token lifetimes must be positive")
	}

	a := &Authority{
		unsigned:   cfg.Unsigned,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		mcpTTL:     cfg.MCPTTL,
	}
	if cfg.Unsigned {
		return a, nil
	}

	privPEM, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	a.key, err = jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}

	pubPEM, err := os.ReadFile(cfg.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	a.public, err = jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	return a, nil
}

// Unsigned reports whether the authority runs in trusted-network mode. The
// admin endpoints are open to any authenticated caller in this mode.
func (a *Authority) Unsigned() bool { return a.unsigned }

// ─────────────────────────────────────────────────────────────────────────────
// Issuance
// ─────────────────────────────────────────────────────────────────────────────

// IssueSession mints an access/refresh pair for a session channel. scope is
// stamped on both tokens so a refresh preserves it.
func (a *Authority) IssueSession(channelID, userID, scope string) (*TokenPair, error) {
	access, err := a.issue(TypeAccess, channelID, userID, scope, a.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := a.issue(TypeRefresh, channelID, userID, scope, a.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(a.accessTTL.Seconds()),
	}, nil
}

// Refresh verifies a refresh token and rotates the pair: a fresh access token
// and a fresh refresh token for the same channel, user and scope. The old
// refresh token stays valid until its own expiry; tokens are stateless.
func (a *Authority) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := a.Verify(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh {
		return nil, fmt.Errorf("auth: token type %q cannot be refreshed", claims.Type)
	}
	return a.IssueSession(claims.Subject, claims.UserID, claims.Scope)
}

// IssueMCP mints a long-lived access token for an MCP client acting as
// userID. The token carries a fresh channel id and the "mcp" scope.
func (a *Authority) IssueMCP(userID string) (token string, expiresAt time.Time, err error) {
	expiresAt = time.Now().Add(a.mcpTTL)
	token, err = a.issue(TypeAccess, uuid.NewString(), userID, ScopeMCP, a.mcpTTL)
	return token, expiresAt, err
}

func (a *Authority) issue(typ TokenType, channelID, userID, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Type:   typ,
		Scope:  scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   channelID,
			Audience:  jwt.ClaimStrings{a.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	if a.unsigned {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			return "", fmt.Errorf("auth: encode token: %w", err)
		}
		return tok, nil
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return tok, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Verification
// ─────────────────────────────────────────────────────────────────────────────

// Verify parses a bearer token and returns its claims. In signed mode the
// RS256 signature, expiry, and (when configured) issuer and audience are all
// enforced. In unsigned mode only the expiry is.
func (a *Authority) Verify(token string) (*Claims, error) {
	if a.unsigned {
		return a.verifyUnsigned(token)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.public, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: verify token: %w", err)
	}
	return parsed.Claims.(*Claims), nil
}

func (a *Authority) verifyUnsigned(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("auth: decode token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("auth: decode token: %w: exp", jwt.ErrTokenRequiredClaimMissing)
	}
	if time.Now().After(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("auth: decode token: %w", jwt.ErrTokenExpired)
	}
	return claims, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Request context
// ─────────────────────────────────────────────────────────────────────────────

type claimsKey struct{}

// NewContext returns ctx carrying verified claims. The HTTP middleware and
// the MCP mount both stash claims here for handlers to pick up.
func NewContext(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// FromContext returns the claims stored by [NewContext], or nil.
func FromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}
