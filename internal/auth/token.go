package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// Token types carried in the "type" claim.
const (
	TokenTypeAgent = "agent"
	TokenTypeAdmin = "admin"
)

// Revoker checks and records revoked token identifiers (jti). Implemented by
// the revocation store (revocation.go).
type Revoker interface {
	IsRevoked(jti string) (bool, error)
	Revoke(jti string, expiresAt time.Time) error
}

// Claims are the registered plus component-specific claims carried by every
// AgentGuard bearer token (spec.md §4.2).
type Claims struct {
	Subject string `json:"sub"`
	JTI     string `json:"jti"`
	Type    string `json:"type"`

	// Agent-token extras.
	Env  string `json:"env,omitempty"`
	Team string `json:"team,omitempty"`

	// Admin-token extras.
	Role string `json:"role,omitempty"`
}

// TokenService signs and verifies RS256 bearer tokens and exposes the public
// key set at /.well-known/jwks.json.
type TokenService struct {
	privateKey  *rsa.PrivateKey
	keyID       string
	agentTTL    time.Duration
	adminTTL    time.Duration
	revocations Revoker
	logger      *slog.Logger
}

// NewTokenService loads an RSA private key from PEM, or generates a fresh
// RSA-2048 keypair and logs it with a warning when pemKey is empty
// (spec.md §4.2, grounded on original_source/backend/app/utils/jwt_utils.py).
func NewTokenService(pemKey, keyID string, agentTTL, adminTTL time.Duration, revocations Revoker, logger *slog.Logger) (*TokenService, error) {
	key, err := loadOrGenerateKey(pemKey, logger)
	if err != nil {
		return nil, err
	}

	if keyID == "" {
		keyID = "agentguard-1"
	}

	return &TokenService{
		privateKey:  key,
		keyID:       keyID,
		agentTTL:    agentTTL,
		adminTTL:    adminTTL,
		revocations: revocations,
		logger:      logger,
	}, nil
}

func loadOrGenerateKey(pemKey string, logger *slog.Logger) (*rsa.PrivateKey, error) {
	if pemKey != "" {
		block, _ := pem.Decode([]byte(pemKey))
		if block == nil {
			return nil, fmt.Errorf("decoding JWT_PRIVATE_KEY: not valid PEM")
		}
		if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			return key, nil
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing JWT_PRIVATE_KEY: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("JWT_PRIVATE_KEY is not an RSA key")
		}
		return rsaKey, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating RSA-2048 keypair: %w", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	logger.Warn("JWT_PRIVATE_KEY not set; generated an ephemeral RSA-2048 keypair. "+
		"Tokens will not verify after a restart unless this key is persisted.",
		"pem", string(pemBytes))

	return key, nil
}

// IssueAgentToken mints an agent-type token for agentID, carrying its
// environment and owning team as extra claims.
func (s *TokenService) IssueAgentToken(agentID, environment, ownerTeam string) (string, int, error) {
	claims := Claims{Type: TokenTypeAgent, Env: environment, Team: ownerTeam}
	token, err := s.issue(agentID, s.agentTTL, claims)
	return token, int(s.agentTTL.Seconds()), err
}

// IssueAdminToken mints an admin-type token for sub, carrying role and
// optional team scope as extra claims.
func (s *TokenService) IssueAdminToken(sub, role string, team *string) (string, int, error) {
	claims := Claims{Type: TokenTypeAdmin, Role: role}
	if team != nil {
		claims.Team = *team
	}
	token, err := s.issue(sub, s.adminTTL, claims)
	return token, int(s.adminTTL.Seconds()), err
}

func (s *TokenService) issue(subject string, ttl time.Duration, claims Claims) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: s.privateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", s.keyID),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	claims.Subject = subject
	claims.JTI = uuid.NewString()

	registered := jwt.Claims{
		Subject:  subject,
		ID:       claims.JTI,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}

	token, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify checks signature, expiry, and revocation status. Missing jti is a
// verification failure (spec.md §4.2).
func (s *TokenService) Verify(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	var registered jwt.Claims
	var custom Claims
	if err := tok.Claims(&s.privateKey.PublicKey, &registered, &custom); err != nil {
		return nil, fmt.Errorf("verifying signature: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{Time: time.Now()}, 5*time.Second); err != nil {
		return nil, fmt.Errorf("validating claims: %w", err)
	}

	if custom.JTI == "" {
		return nil, fmt.Errorf("token missing jti claim")
	}

	revoked, err := s.revocations.IsRevoked(custom.JTI)
	if err != nil {
		return nil, fmt.Errorf("checking revocation: %w", err)
	}
	if revoked {
		return nil, fmt.Errorf("token has been revoked")
	}

	return &custom, nil
}

// Revoke decodes raw (without re-verifying revocation, so a token can revoke
// itself) and records its jti until expiry.
func (s *TokenService) Revoke(raw string) (string, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	var registered jwt.Claims
	var custom Claims
	if err := tok.Claims(&s.privateKey.PublicKey, &registered, &custom); err != nil {
		return "", fmt.Errorf("verifying signature: %w", err)
	}

	if custom.JTI == "" {
		return "", fmt.Errorf("token missing jti claim")
	}

	expiresAt := time.Now().Add(time.Hour)
	if registered.Expiry != nil {
		expiresAt = registered.Expiry.Time()
	}

	if err := s.revocations.Revoke(custom.JTI, expiresAt); err != nil {
		return "", fmt.Errorf("recording revocation: %w", err)
	}

	return custom.JTI, nil
}

// JWKS returns the public key set for verifying AgentGuard tokens, per
// original_source/backend/app/utils/jwt_utils.py::get_jwks.
func (s *TokenService) JWKS() map[string]any {
	pub := s.privateKey.PublicKey
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(bigEndianBytes(pub.E))

	return map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"kid": s.keyID,
				"n":   n,
				"e":   e,
			},
		},
	}
}

func bigEndianBytes(i int) []byte {
	b := []byte{byte(i >> 16), byte(i >> 8), byte(i)}
	// Trim leading zero bytes (E is typically 65537 = 0x010001).
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return b
}
