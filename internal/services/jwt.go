package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"essay-grader/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "essay-grader"

// ErrInvalidToken is returned for tokens that are malformed, expired or signed with another key
var ErrInvalidToken = errors.New("invalid token")

// JWTService issues and checks the bearer tokens of account holders
type JWTService struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTService signs with HS256. A non-positive ttl means seven days.
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &JWTService{secret: []byte(secret), ttl: ttl}
}

// GenerateToken issues a token whose subject is the user id
func (s *JWTService) GenerateToken(userID int64, phone string) (string, error) {
	issued := time.Now()
	claims := models.Claims{
		UserID: userID,
		Phone:  phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token for user %d: %w", userID, err)
	}
	return signed, nil
}

// ValidateToken returns the claims of a token this service issued
func (s *JWTService) ValidateToken(raw string) (*models.Claims, error) {
	claims := &models.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return claims, nil
}
