package service

import (
	"errors"
	"fmt"
	"time"

	"beatrelay/internal/config"
	"beatrelay/internal/microservices/http-api/middleware/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "beat-server"

// scopes carried by admin tokens
const (
	ScopeStatusRead    = "status:read"
	ScopeJournalRead   = "journal:read"
	ScopeDispatchWrite = "dispatch:write"
)

var AdminScopes = []string{ScopeStatusRead, ScopeJournalRead, ScopeDispatchWrite}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims of an admin access token
type Claims struct {
	Username string   `json:"username"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

type AuthService interface {
	Login(username, password string) (accessToken string, err error)
	ValidateToken(tokenString string) (*Claims, error)
	TokenTTL() time.Duration
}

// authService knows a single operator account taken from the config
type authService struct {
	username       string
	passwordHash   string
	jwtSecret      []byte
	accessTokenTTL time.Duration
	now            func() time.Time
}

func NewAuthService(cfg *config.Config) AuthService {
	return &authService{
		username:       cfg.AdminUsername,
		passwordHash:   cfg.AdminPasswordHash,
		jwtSecret:      []byte(cfg.JWTSecret),
		accessTokenTTL: cfg.AccessTokenTTL,
		now:            time.Now,
	}
}

// Login checks the operator credentials and returns a signed access token.
func (s *authService) Login(username, password string) (string, error) {
	// always run bcrypt so a wrong username costs the same as a wrong password
	pwErr := auth.VerifyPassword(s.passwordHash, password)
	if username != s.username || pwErr != nil {
		return "", ErrInvalidCredentials
	}
	return s.generateAccessToken(username)
}

func (s *authService) generateAccessToken(username string) (string, error) {
	now := s.now()
	claims := Claims{
		Username: username,
		Scopes:   AdminScopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.jwtSecret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) TokenTTL() time.Duration {
	return s.accessTokenTTL
}
