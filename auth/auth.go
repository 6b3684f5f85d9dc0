package auth

import (
	"os"

	"mafiaserver/models"

	jwt "github.com/dgrijalva/jwt-go"
)

// JwtKey signs and verifies session tokens. Set JWT_SECRET in production.
var JwtKey = func() []byte {
	if key := os.Getenv("JWT_SECRET"); key != "" {
		return []byte(key)
	}
	return []byte("dev_secret_key")
}()

// ParseToken validates a token string and returns its claims.
func ParseToken(tokenString string) (*models.MyClaims, error) {
	claims := &models.MyClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return JwtKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.NewValidationError("invalid token", jwt.ValidationErrorClaimsInvalid)
	}
	return claims, nil
}
