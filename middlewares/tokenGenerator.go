package middlewares

import (
	"time"

	"mafiaserver/auth"
	"mafiaserver/models"

	jwt "github.com/dgrijalva/jwt-go"
)

const tokenLifetime = 72 * time.Hour

// GenerateToken issues a signed token carrying the user's identity. The
// websocket gateway later accepts it as opaque proof of that identity.
func GenerateToken(userID, nickname string) (string, error) {
	claims := &models.MyClaims{
		UserID:   userID,
		Nickname: nickname,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(tokenLifetime).Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(auth.JwtKey)
}
