// Package auth issues and checks the short-lived tokens nodes attach to
// every message they deliver, so a receiver knows which node is calling.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the calling node's identity.
type Claims struct {
	jwt.RegisteredClaims
	NodeID string `json:"node_id"`
}

// GenerateToken signs a token for nodeID with the shared network secret.
func GenerateToken(nodeID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		NodeID: nodeID,
	})

	return token.SignedString(secretKey)
}

// GetNodeIDFromToken verifies tokenString and returns the node it was issued to.
func GetNodeIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: expired", common.ErrInvalidToken)
		}
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.NodeID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.NodeID, nil
}
