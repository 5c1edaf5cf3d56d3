package claims

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/autherr"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/session"
)

// Mode selects how credential claims are decoded.
type Mode string

const (
	// ModeUnverified decodes the payload without checking the signature.
	// The edge then trusts whatever the client presents; only use it when the
	// backend is the sole issuer and the cookie cannot be forged upstream.
	ModeUnverified Mode = "unverified"

	// ModeHMAC verifies an HMAC signature with a shared secret.
	ModeHMAC Mode = "hmac"

	// ModeJWKS verifies against the issuer's published key set.
	ModeJWKS Mode = "jwks"
)

// Claims is the payload of the refresh credential.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string       `json:"userId,omitempty"`
	Username string       `json:"username,omitempty"`
	Email    string       `json:"email,omitempty"`
	Role     session.Role `json:"role"`
}

// normalize upper-cases the role and falls back to sub for the user ID.
func (c *Claims) normalize() {
	c.Role = session.ParseRole(string(c.Role))
	if c.UserID == "" {
		c.UserID = c.Subject
	}
}

// Decoder turns a raw credential into claims. Failures wrap autherr.ErrClaimDecode.
type Decoder interface {
	Decode(ctx context.Context, raw string) (*Claims, error)
}

// Config selects and configures a Decoder.
type Config struct {
	Mode       Mode
	HMACSecret string
	JWKSURL    string
	Issuer     string
	Algorithms []string
}

// NewDecoder builds the Decoder for cfg.Mode. An empty mode means unverified.
func NewDecoder(ctx context.Context, cfg Config, logger *slog.Logger) (Decoder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Mode {
	case "", ModeUnverified:
		logger.Warn("credential claims are decoded without signature verification")
		return NewUnverifiedDecoder(), nil
	case ModeHMAC:
		if cfg.HMACSecret == "" {
			return nil, fmt.Errorf("hmac claims mode requires a secret")
		}
		return NewHMACDecoder([]byte(cfg.HMACSecret), cfg.Algorithms...), nil
	case ModeJWKS:
		if cfg.JWKSURL == "" {
			return nil, fmt.Errorf("jwks claims mode requires a jwks url")
		}
		return NewOIDCDecoder(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Algorithms...), nil
	default:
		return nil, fmt.Errorf("unknown claims mode %q", cfg.Mode)
	}
}

// UnverifiedDecoder reads the claims without verifying the signature. Expiry
// is still enforced.
type UnverifiedDecoder struct {
	parser *jwt.Parser
	now    func() time.Time
}

// NewUnverifiedDecoder creates an UnverifiedDecoder.
func NewUnverifiedDecoder() *UnverifiedDecoder {
	return &UnverifiedDecoder{parser: jwt.NewParser(), now: time.Now}
}

// Decode implements Decoder.
func (d *UnverifiedDecoder) Decode(_ context.Context, raw string) (*Claims, error) {
	var c Claims
	if _, _, err := d.parser.ParseUnverified(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrClaimDecode, err)
	}
	if c.ExpiresAt != nil && !d.now().Before(c.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: credential expired", autherr.ErrClaimDecode)
	}
	c.normalize()
	return &c, nil
}

// HMACDecoder verifies HS256/384/512 signatures with a shared secret.
type HMACDecoder struct {
	secret []byte
	parser *jwt.Parser
}

// NewHMACDecoder creates an HMACDecoder. Without algs, HS256/384/512 are accepted.
func NewHMACDecoder(secret []byte, algs ...string) *HMACDecoder {
	if len(algs) == 0 {
		algs = []string{"HS256", "HS384", "HS512"}
	}
	return &HMACDecoder{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods(algs), jwt.WithExpirationRequired()),
	}
}

// Decode implements Decoder.
func (d *HMACDecoder) Decode(_ context.Context, raw string) (*Claims, error) {
	var c Claims
	_, err := d.parser.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return d.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrClaimDecode, err)
	}
	c.normalize()
	return &c, nil
}

// OIDCDecoder verifies signatures against a remote JWKS.
type OIDCDecoder struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCDecoder creates an OIDCDecoder. An empty issuer disables the issuer check.
func NewOIDCDecoder(ctx context.Context, jwksURL, issuer string, algs ...string) *OIDCDecoder {
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	verifier := oidc.NewVerifier(issuer, keySet, &oidc.Config{
		SkipClientIDCheck:    true,
		SkipIssuerCheck:      issuer == "",
		SupportedSigningAlgs: algs,
	})
	return &OIDCDecoder{verifier: verifier}
}

// Decode implements Decoder.
func (d *OIDCDecoder) Decode(ctx context.Context, raw string) (*Claims, error) {
	token, err := d.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrClaimDecode, err)
	}
	var c Claims
	if err := token.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrClaimDecode, err)
	}
	c.normalize()
	return &c, nil
}
