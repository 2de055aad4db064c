package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL is used when no token lifetime is configured.
const DefaultAccessTokenTTL = 24 * time.Hour

var (
	errEmptyToken      = errors.New("jwt: token string is empty")
	errIssuerMismatch  = errors.New("jwt: invalid issuer")
	errMissingIdentity = errors.New("jwt: missing identity claims")
)

// JWTConfig bundles the settings of a JWTService.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	Clock          func() time.Time
}

// Claims is the payload of a whiteboard bearer token. Tokens minted by older
// identity services may carry only the email claim.
type Claims struct {
	UserID string `json:"uid,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the normalised principal named by the claims.
func (c *Claims) Identity() Identity {
	return Identity{
		UserID: strings.TrimSpace(c.UserID),
		Email:  strings.ToLower(strings.TrimSpace(c.Email)),
	}
}

// JWTService signs and checks HS256 tokens sharing a secret with the identity service.
// Production only parses; Sign exists for fixtures and local tooling.
type JWTService struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	svc := &JWTService{
		key:    []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTokenTTL,
		now:    cfg.Clock,
	}
	if svc.ttl <= 0 {
		svc.ttl = DefaultAccessTokenTTL
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	svc.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(svc.now),
	)
	return svc, nil
}

// Sign issues a token for identity valid for the configured TTL.
func (s *JWTService) Sign(identity Identity, audience ...string) (string, error) {
	identity = (&Claims{UserID: identity.UserID, Email: identity.Email}).Identity()
	if identity.UserID == "" && identity.Email == "" {
		return "", errMissingIdentity
	}

	subject := identity.UserID
	if subject == "" {
		subject = identity.Email
	}

	issuedAt := s.now()
	claims := Claims{
		UserID: identity.UserID,
		Email:  identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			Audience:  audience,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// Parse checks signature, algorithm, time window and issuer of raw and returns its claims.
func (s *JWTService) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, errEmptyToken
	}

	claims := new(Claims)
	if _, err := s.parser.ParseWithClaims(raw, claims, s.keyFunc); err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	switch {
	case s.issuer != "" && claims.Issuer != s.issuer:
		return nil, errIssuerMismatch
	case claims.UserID == "" && claims.Email == "":
		return nil, errMissingIdentity
	}
	return claims, nil
}

func (s *JWTService) keyFunc(*jwt.Token) (any, error) {
	return s.key, nil
}
