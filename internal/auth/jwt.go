// Package auth issues and validates participant access tokens.
//
// The identity provider is external; this package only needs to agree with it
// on an HS256 shared secret. Tokens carry the participant id as the subject.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the only token type accepted by the API.
const TokenTypeAccess = "access"

// AccessTokenExpiry is the lifetime of tokens issued by GenerateAccessToken.
const AccessTokenExpiry = 15 * time.Minute

// DefaultLeeway is the clock skew tolerated on exp/nbf/iat.
const DefaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptyParticipantID is returned when a token would carry no subject.
	ErrEmptyParticipantID = errors.New("participant id cannot be empty")
)

// Claims are the JWT claims of a participant access token.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// JWTService signs tokens with the current secret and validates them against
// the current secret and, during a rotation, the previous one.
type JWTService struct {
	secrets [][]byte
	leeway  time.Duration
}

// NewJWTService creates a JWTService. previousSecret may be empty when no
// rotation is in progress.
func NewJWTService(currentSecret, previousSecret string) *JWTService {
	svc := &JWTService{
		secrets: [][]byte{[]byte(currentSecret)},
		leeway:  DefaultLeeway,
	}
	if previousSecret != "" {
		svc.secrets = append(svc.secrets, []byte(previousSecret))
	}
	return svc
}

// WithLeeway sets the tolerated clock skew.
func (s *JWTService) WithLeeway(leeway time.Duration) *JWTService {
	s.leeway = leeway
	return s
}

// GenerateAccessToken creates an access token for participantID.
func (s *JWTService) GenerateAccessToken(participantID string) (string, error) {
	if participantID == "" {
		return "", ErrEmptyParticipantID
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenExpiry)),
		},
		Type: TokenTypeAccess,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secrets[0])
}

// ValidateToken parses and validates a token against each configured secret
// in order, returning the claims of the first that verifies.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	var lastErr error
	for _, secret := range s.secrets {
		claims, err := s.parse(tokenString, secret)
		if err == nil {
			return claims, nil
		}
		lastErr = err
		// An expired token signed with this secret will not verify under another.
		if errors.Is(err, jwt.ErrTokenExpired) {
			break
		}
	}

	if errors.Is(lastErr, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

// ValidateAccessToken validates an access token and returns its participant id.
func (s *JWTService) ValidateAccessToken(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Type != TokenTypeAccess || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
