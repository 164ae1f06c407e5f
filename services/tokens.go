package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type hostClaims struct {
	RoomID string `json:"roomId"`
	jwt.RegisteredClaims
}

// TokenManager signs the host token handed out at room creation. Only a
// connection presenting it may act as the room's host.
type TokenManager struct {
	secretKey []byte
	maxAge    time.Duration
}

func NewTokenManager(secretKey string, maxAge time.Duration) *TokenManager {
	return &TokenManager{
		secretKey: []byte(secretKey),
		maxAge:    maxAge,
	}
}

func (m *TokenManager) Issue(roomID string, now time.Time) (string, error) {
	claims := hostClaims{
		RoomID: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "host",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign host token: %w", err)
	}
	return signed, nil
}

// Verify returns the room the token was issued for.
func (m *TokenManager) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &hostClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*hostClaims)
	if !ok || !token.Valid || claims.RoomID == "" {
		return "", ErrInvalidToken
	}
	return claims.RoomID, nil
}

// VerifyFor checks the token belongs to roomID.
func (m *TokenManager) VerifyFor(tokenString, roomID string) error {
	tokenRoom, err := m.Verify(tokenString)
	if err != nil {
		return err
	}
	if tokenRoom != roomID {
		return ErrInvalidToken
	}
	return nil
}
