package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fastworkflow/fastworkflow/internal/auth"
)

var (
	keyOnce sync.Once
	privPEM []byte
	pubPEM  []byte
)

// testKeyPair generates one RSA key pair for the whole suite and writes it
// into a fresh temp directory per call.
func testKeyPair(t *testing.T) (privFile, pubFile string) {
	t.Helper()
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		privPEM = pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			t.Fatalf("marshal public key: %v", err)
		}
		pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	})

	dir := t.TempDir()
	privFile = filepath.Join(dir, "key.pem")
	pubFile = filepath.Join(dir, "key.pub.pem")
	if err := os.WriteFile(privFile, privPEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	if err := os.WriteFile(pubFile, pubPEM, 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privFile, pubFile
}

func signedConfig(t *testing.T) auth.Config {
	t.Helper()
	priv, pub := testKeyPair(t)
	return auth.Config{
		PrivateKeyFile: priv,
		PublicKeyFile:  pub,
		Issuer:         "fastworkflow",
		Audience:       "fastworkflow-api",
		AccessTTL:      time.Hour,
		RefreshTTL:     24 * time.Hour,
		MCPTTL:         90 * 24 * time.Hour,
	}
}

func newSigned(t *testing.T) *auth.Authority {
	t.Helper()
	a, err := auth.New(signedConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func newUnsigned(t *testing.T) *auth.Authority {
	t.Helper()
	a, err := auth.New(auth.Config{
		Unsigned:   true,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		MCPTTL:     90 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("New unsigned: %v", err)
	}
	return a
}

func TestIssueSession_RoundTrip(t *testing.T) {
	a := newSigned(t)

	pair, err := a.IssueSession("chan-1", "alice", auth.ScopeAdmin)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", pair.ExpiresIn)
	}

	access, err := a.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify access: %v", err)
	}
	if access.Type != auth.TypeAccess {
		t.Errorf("access type = %q", access.Type)
	}
	if access.ChannelID() != "chan-1" || access.UserID != "alice" || access.Scope != auth.ScopeAdmin {
		t.Errorf("access claims = %+v", access)
	}
	if access.ID == "" {
		t.Error("access jti is empty")
	}

	refresh, err := a.Verify(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
	if refresh.Type != auth.TypeRefresh {
		t.Errorf("refresh type = %q", refresh.Type)
	}
	if refresh.ID == access.ID {
		t.Error("access and refresh share a jti")
	}
}

func TestVerify_RejectsForeignKey(t *testing.T) {
	a := newSigned(t)

	// An authority with a different key pair must reject a's tokens.
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()
	otherPriv := filepath.Join(dir, "other.pem")
	otherPub := filepath.Join(dir, "other.pub.pem")
	if err := os.WriteFile(otherPriv, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(otherKey),
	}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&otherKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	if err := os.WriteFile(otherPub, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil {
		t.Fatalf("write key: %v", err)
	}

	cfg := signedConfig(t)
	cfg.PrivateKeyFile = otherPriv
	cfg.PublicKeyFile = otherPub
	other, err := auth.New(cfg)
	if err != nil {
		t.Fatalf("New other: %v", err)
	}

	pair, err := a.IssueSession("chan-1", "alice", "")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if _, err := other.Verify(pair.AccessToken); err == nil {
		t.Error("token signed with a foreign key verified")
	}
}

func TestVerify_RejectsExpired(t *testing.T) {
	cfg := signedConfig(t)
	cfg.AccessTTL = time.Nanosecond
	a, err := auth.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pair, err := a.IssueSession("chan-1", "alice", "")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := a.Verify(pair.AccessToken); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_EnforcesIssuerAndAudience(t *testing.T) {
	a := newSigned(t)
	pair, err := a.IssueSession("chan-1", "alice", "")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	// Same keys, different expected issuer.
	cfg := signedConfig(t)
	cfg.Issuer = "someone-else"
	stranger, err := auth.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := stranger.Verify(pair.AccessToken); err == nil {
		t.Error("token with a foreign issuer verified")
	}

	cfg = signedConfig(t)
	cfg.Audience = "other-api"
	stranger, err = auth.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := stranger.Verify(pair.AccessToken); err == nil {
		t.Error("token for a foreign audience verified")
	}
}

func TestVerify_RejectsUnsignedTokenInSignedMode(t *testing.T) {
	unsigned := newUnsigned(t)
	signed := newSigned(t)

	pair, err := unsigned.IssueSession("chan-1", "alice", "")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if _, err := signed.Verify(pair.AccessToken); err == nil {
		t.Error("alg=none token verified in signed mode")
	}
}

func TestUnsignedMode_DecodesPayloadButEnforcesExpiry(t *testing.T) {
	a := newUnsigned(t)
	if !a.Unsigned() {
		t.Fatal("Unsigned() = false")
	}

	pair, err := a.IssueSession("chan-1", "alice", auth.ScopeMCP)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	claims, err := a.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.ChannelID() != "chan-1" || claims.UserID != "alice" || claims.Scope != auth.ScopeMCP {
		t.Errorf("claims = %+v", claims)
	}

	// A token signed by somebody else decodes too; only the payload counts.
	signed := newSigned(t)
	foreign, err := signed.IssueSession("chan-2", "bob", "")
	if err != nil {
		t.Fatalf("IssueSession signed: %v", err)
	}
	claims, err = a.Verify(foreign.AccessToken)
	if err != nil {
		t.Fatalf("Verify foreign: %v", err)
	}
	if claims.UserID != "bob" {
		t.Errorf("foreign uid = %q, want bob", claims.UserID)
	}

	// Expiry still applies.
	expired := jwt.NewWithClaims(jwt.SigningMethodNone, &auth.Claims{
		Type: auth.TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "chan-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	raw, err := expired.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("encode expired token: %v", err)
	}
	if _, err := a.Verify(raw); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}

	// A token without exp never passes.
	eternal := jwt.NewWithClaims(jwt.SigningMethodNone, &auth.Claims{
		Type:             auth.TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "chan-1"},
	})
	raw, err = eternal.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("encode eternal token: %v", err)
	}
	if _, err := a.Verify(raw); !errors.Is(err, jwt.ErrTokenRequiredClaimMissing) {
		t.Errorf("err = %v, want ErrTokenRequiredClaimMissing", err)
	}
}

func TestRefresh_RotatesPair(t *testing.T) {
	a := newSigned(t)

	pair, err := a.IssueSession("chan-1", "alice", auth.ScopeAdmin)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	rotated, err := a.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	claims, err := a.Verify(rotated.AccessToken)
	if err != nil {
		t.Fatalf("Verify rotated access: %v", err)
	}
	if claims.ChannelID() != "chan-1" {
		t.Errorf("rotated channel = %q, want chan-1 (refresh keeps the session)", claims.ChannelID())
	}
	if claims.UserID != "alice" || claims.Scope != auth.ScopeAdmin {
		t.Errorf("rotated claims = %+v", claims)
	}

	// Access tokens are not refresh tokens.
	if _, err := a.Refresh(pair.AccessToken); err == nil {
		t.Error("Refresh accepted an access token")
	}
}

func TestIssueMCP(t *testing.T) {
	a := newSigned(t)

	token, expiresAt, err := a.IssueMCP("warehouse-bot")
	if err != nil {
		t.Fatalf("IssueMCP: %v", err)
	}
	if until := time.Until(expiresAt); until < 89*24*time.Hour {
		t.Errorf("expiry %v from now, want ~90 days", until)
	}

	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Type != auth.TypeAccess {
		t.Errorf("type = %q, want access", claims.Type)
	}
	if claims.Scope != auth.ScopeMCP {
		t.Errorf("scope = %q, want mcp", claims.Scope)
	}
	if claims.UserID != "warehouse-bot" {
		t.Errorf("uid = %q", claims.UserID)
	}
	if claims.ChannelID() == "" {
		t.Error("channel id is empty")
	}
}

func TestNew_Validation(t *testing.T) {
	priv, pub := testKeyPair(t)

	cases := []struct {
		name string
		cfg  auth.Config
	}{
		{"zero access ttl", auth.Config{Unsigned: true, RefreshTTL: time.Hour, MCPTTL: time.Hour}},
		{"missing private key", auth.Config{PrivateKeyFile: filepath.Join(t.TempDir(), "nope.pem"), PublicKeyFile: pub, AccessTTL: time.Hour, RefreshTTL: time.Hour, MCPTTL: time.Hour}},
		{"missing public key", auth.Config{PrivateKeyFile: priv, PublicKeyFile: filepath.Join(t.TempDir(), "nope.pem"), AccessTTL: time.Hour, RefreshTTL: time.Hour, MCPTTL: time.Hour}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := auth.New(tc.cfg); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}

	t.Run("garbage pem", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.pem")
		if err := os.WriteFile(bad, []byte("not a key"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		cfg := auth.Config{PrivateKeyFile: bad, PublicKeyFile: pub, AccessTTL: time.Hour, RefreshTTL: time.Hour, MCPTTL: time.Hour}
		if _, err := auth.New(cfg); err == nil {
			t.Error("New accepted a garbage private key")
		}
	})
}

func TestClaimsContext(t *testing.T) {
	claims := &auth.Claims{UserID: "alice", Type: auth.TypeAccess}
	ctx := auth.NewContext(context.Background(), claims)
	if got := auth.FromContext(ctx); got != claims {
		t.Errorf("FromContext = %p, want %p", got, claims)
	}
	if got := auth.FromContext(context.Background()); got != nil {
		t.Errorf("FromContext on empty ctx = %+v, want nil", got)
	}
}
