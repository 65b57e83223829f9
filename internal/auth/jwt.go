package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Tokens are minted by the hosted identity backend; this service only verifies them.
// The subject claim carries the wallet owner's user id.

var ErrInvalidSubject = errors.New("token subject is not a user id")

type Claims struct {
	UserID uuid.UUID
	Email  string
}

type walletClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

func GenerateToken(userID uuid.UUID, email, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := walletClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(raw, secret string) (*Claims, error) {
	var wc walletClaims
	_, err := jwt.ParseWithClaims(raw, &wc, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	userID, err := uuid.Parse(wc.Subject)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", ErrInvalidSubject)
	}

	return &Claims{UserID: userID, Email: wc.Email}, nil
}
